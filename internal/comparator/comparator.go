// Package comparator classifies a pair of per-toolchain job outcomes into
// a verdict, per spec.md §4.7. The classifier is a pure, total function:
// no I/O, no partial cases, agreeing with the decision table given there.
package comparator

import "github.com/rust-lang/crater/internal/api"

// bucket collapses the Outcome values into the four columns of the
// decision table: build-fail, test-fail, test-pass, error/timeout
// (timeouts are treated as error for classification purposes, per spec.md
// §4.7, "timeout-* is treated as error for classification but
// distinguished in the log").
//
// test-skipped (skip-tests: build ran, test phase didn't) classifies as
// test-pass-equivalent, not as its own bucket. Package-level skip (the
// policy override) never reaches the comparator at all -- those packages
// are excluded from the job set entirely (planner.Plan.Skipped) and get
// their skipped verdict synthesized directly by the report, outside this
// table. So the only real producer of test-skipped is skip-tests, and
// spec.md §8 scenario S6 requires two skip-tests sides to compare as
// same-test-pass, exactly like two ordinary test-pass sides.
type bucket int

const (
	bucketBuildFail bucket = iota
	bucketTestFail
	bucketTestPass
	bucketError
)

func classify(o api.Outcome) bucket {
	switch o {
	case api.OutcomeBuildFail, api.OutcomeBuildBroken:
		return bucketBuildFail
	case api.OutcomeTestFail:
		return bucketTestFail
	case api.OutcomeTestPass, api.OutcomeTestSkipped:
		return bucketTestPass
	default: // error, timeout-overall, timeout-no-output, spurious-retry-exhausted
		return bucketError
	}
}

// table[a][b] is the verdict for (bucket(A), bucket(B)), transcribed
// directly from spec.md §4.7. It is not symmetric in storage -- regressed
// and fixed are mirror images across the diagonal -- but Compare below
// always agrees with the table regardless of argument order.
var table = [4][4]api.Verdict{
	bucketBuildFail: {
		bucketBuildFail: api.VerdictSameBuildFail,
		bucketTestFail:  api.VerdictRegressed,
		bucketTestPass:  api.VerdictRegressed,
		bucketError:     api.VerdictUnknown,
	},
	bucketTestFail: {
		bucketBuildFail: api.VerdictFixed,
		bucketTestFail:  api.VerdictSameTestFail,
		bucketTestPass:  api.VerdictRegressed,
		bucketError:     api.VerdictUnknown,
	},
	bucketTestPass: {
		bucketBuildFail: api.VerdictFixed,
		bucketTestFail:  api.VerdictFixed,
		bucketTestPass:  api.VerdictSameTestPass,
		bucketError:     api.VerdictUnknown,
	},
	bucketError: {
		bucketBuildFail: api.VerdictUnknown,
		bucketTestFail:  api.VerdictUnknown,
		bucketTestPass:  api.VerdictUnknown,
		bucketError:     api.VerdictUnknown,
	},
}

// Compare classifies a's outcome against b's, where a is toolchain A and
// b is toolchain B. If broken is set (the package's policy override),
// any build-fail on either side is reported as same-build-fail rather
// than regressed/fixed, per spec.md §4.7's override clause.
func Compare(a, b api.Outcome, broken bool) api.Verdict {
	ba, bb := classify(a), classify(b)
	if broken && (ba == bucketBuildFail || bb == bucketBuildFail) {
		return api.VerdictSameBuildFail
	}
	return table[ba][bb]
}
