package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/policy"
)

func overridesFrom(m map[string]policy.Override) func(string) policy.Override {
	return func(key string) policy.Override { return m[key] }
}

func TestPlanSkipsExcludedPackages(t *testing.T) {
	lazy := api.PackageRef{Registry: "lazy_static", Version: "0.2.11"}
	hello := api.PackageRef{Git: "https://github.com/brson/hello-rs", SHA: "abc123"}

	plan := Plan([]api.PackageRef{lazy, hello}, api.ModeBuildAndTest,
		overridesFrom(map[string]policy.Override{
			"lazy_static": {Skip: true},
		}))

	require.Len(t, plan.Packages, 1)
	assert.True(t, plan.Packages[0].Equal(hello))
	require.Len(t, plan.Skipped, 1)
	assert.True(t, plan.Skipped[0].Equal(lazy))
}

func TestPlanAppliesSkipTests(t *testing.T) {
	pkg := api.PackageRef{Registry: "serde", Version: "1.0.0"}
	plan := Plan([]api.PackageRef{pkg}, api.ModeBuildAndTest,
		overridesFrom(map[string]policy.Override{
			"serde": {SkipTests: true},
		}))

	require.Len(t, plan.Planned, 1)
	assert.Equal(t, api.ModeBuildOnly, plan.Planned[0].EffectiveMode)
}

func TestEffectiveModeLeavesNonBuildAndTestAlone(t *testing.T) {
	assert.Equal(t, api.ModeCheckOnly, EffectiveMode(api.ModeCheckOnly, policy.Override{SkipTests: true}))
}

func TestPackageKeyDistinguishesGitFromRegistry(t *testing.T) {
	registry := api.PackageRef{Registry: "serde", Version: "1.0.0"}
	git := api.PackageRef{Git: "https://github.com/serde-rs/serde", SHA: "deadbeef"}
	assert.Equal(t, "serde", PackageKey(registry))
	assert.Equal(t, "git:https://github.com/serde-rs/serde", PackageKey(git))
}

func TestRunsTests(t *testing.T) {
	assert.True(t, RunsTests(api.ModeBuildAndTest))
	for _, mode := range []api.Mode{api.ModeBuildOnly, api.ModeCheckOnly, api.ModeDoc, api.ModeClippy} {
		assert.False(t, RunsTests(mode), "mode %s should not run tests", mode)
	}
}

func TestPlanLookupFindsByStructuralEquality(t *testing.T) {
	pkg := api.PackageRef{Registry: "lazy_static", Version: "0.2.11"}
	plan := Plan([]api.PackageRef{pkg}, api.ModeBuildAndTest, overridesFrom(nil))

	found, ok := plan.Lookup(api.PackageRef{Registry: "lazy_static", Version: "0.2.11"})
	require.True(t, ok)
	assert.Equal(t, api.ModeBuildAndTest, found.EffectiveMode)

	_, ok = plan.Lookup(api.PackageRef{Registry: "other"})
	assert.False(t, ok)
}
