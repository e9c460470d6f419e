// Package planner expands an experiment's package selection into the
// cartesian job set and applies per-package policy overrides, spec.md
// §4.3. It is a pure function of its inputs: no I/O, no clock, so its
// output is fully determined by (packages, mode, overrides) and easy to
// property-test.
package planner

import (
	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/policy"
)

// PackageKey is how a package is looked up in the policy override map:
// its registry name, or "git:<repository URL>" for a git-hosted package.
func PackageKey(pkg api.PackageRef) string {
	if pkg.IsGit() {
		return "git:" + pkg.Git
	}
	return pkg.Registry
}

// EffectiveMode applies skip-tests: a package so flagged runs build-only
// even if the experiment mode is build-and-test, spec.md §4.3.
func EffectiveMode(mode api.Mode, override policy.Override) api.Mode {
	if override.SkipTests && mode == api.ModeBuildAndTest {
		return api.ModeBuildOnly
	}
	return mode
}

// PlannedPackage is one package's participation in an experiment, after
// policy overrides have been applied.
type PlannedPackage struct {
	Package       api.PackageRef
	EffectiveMode api.Mode
	Override      policy.Override
}

// Plan is the result of expanding a package selection: Packages holds
// every package that gets real jobs (skip excluded); Skipped holds the
// ones policy removed entirely -- they never enter the job set and never
// run, and the report gives them a `skipped` verdict directly rather than
// comparing any outcomes for them, spec.md §4.3. skip-tests is a separate
// override (see EffectiveMode): it still runs the build and reports a real
// `test-skipped` outcome, which the comparator treats as test-pass
// equivalent.
type Plan struct {
	Packages []api.PackageRef
	Planned  []PlannedPackage
	Skipped  []api.PackageRef
}

// Plan expands pkgs into the job set for mode, looking up each package's
// override via overridesFor (typically policy.Config.OverridesFor).
func Plan(pkgs []api.PackageRef, mode api.Mode, overridesFor func(key string) policy.Override) Plan {
	var plan Plan
	for _, pkg := range pkgs {
		override := overridesFor(PackageKey(pkg))
		if override.Skip {
			plan.Skipped = append(plan.Skipped, pkg)
			continue
		}
		plan.Packages = append(plan.Packages, pkg)
		plan.Planned = append(plan.Planned, PlannedPackage{
			Package:       pkg,
			EffectiveMode: EffectiveMode(mode, override),
			Override:      override,
		})
	}
	return plan
}

// RunsTests reports whether mode exercises the test phase at all -- modes
// check-only, build-only, doc, clippy skip phase 3 entirely, spec.md §4.4.
func RunsTests(mode api.Mode) bool {
	return mode == api.ModeBuildAndTest
}

// Lookup finds a package's plan entry by structural equality, recovering
// the effective mode/override for that package.
func (p Plan) Lookup(pkg api.PackageRef) (PlannedPackage, bool) {
	for _, planned := range p.Planned {
		if planned.Package.Equal(pkg) {
			return planned, true
		}
	}
	return PlannedPackage{}, false
}
