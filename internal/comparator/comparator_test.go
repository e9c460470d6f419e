package comparator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rust-lang/crater/internal/api"
)

var allOutcomes = []api.Outcome{
	api.OutcomeBuildFail, api.OutcomeTestFail, api.OutcomeTestPass,
	api.OutcomeTestSkipped, api.OutcomeBuildBroken, api.OutcomeError,
	api.OutcomeTimeoutOverall, api.OutcomeTimeoutNoOutput,
}

func TestCompareMatchesSpecTable(t *testing.T) {
	cases := []struct {
		a, b api.Outcome
		want api.Verdict
	}{
		{api.OutcomeBuildFail, api.OutcomeBuildFail, api.VerdictSameBuildFail},
		{api.OutcomeBuildFail, api.OutcomeTestFail, api.VerdictRegressed},
		{api.OutcomeBuildFail, api.OutcomeTestPass, api.VerdictRegressed},
		{api.OutcomeTestFail, api.OutcomeBuildFail, api.VerdictFixed},
		{api.OutcomeTestFail, api.OutcomeTestFail, api.VerdictSameTestFail},
		{api.OutcomeTestFail, api.OutcomeTestPass, api.VerdictRegressed},
		{api.OutcomeTestPass, api.OutcomeBuildFail, api.VerdictFixed},
		{api.OutcomeTestPass, api.OutcomeTestFail, api.VerdictFixed},
		{api.OutcomeTestPass, api.OutcomeTestPass, api.VerdictSameTestPass},
		{api.OutcomeTestSkipped, api.OutcomeTestSkipped, api.VerdictSameTestPass},
		{api.OutcomeTestSkipped, api.OutcomeTestPass, api.VerdictSameTestPass},
		{api.OutcomeTestSkipped, api.OutcomeBuildFail, api.VerdictFixed},
		{api.OutcomeBuildFail, api.OutcomeTestSkipped, api.VerdictRegressed},
		{api.OutcomeError, api.OutcomeTestPass, api.VerdictUnknown},
		{api.OutcomeTimeoutOverall, api.OutcomeTestPass, api.VerdictUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Compare(c.a, c.b, false), "Compare(%s, %s)", c.a, c.b)
	}
}

// TestCompareIsTotal checks every pair of outcomes produces a defined
// verdict, with and without the broken override -- spec.md §4.7's "the
// comparator is pure and total".
func TestCompareIsTotal(t *testing.T) {
	for _, a := range allOutcomes {
		for _, b := range allOutcomes {
			for _, broken := range []bool{false, true} {
				v := Compare(a, b, broken)
				assert.NotEmpty(t, string(v), "Compare(%s, %s, %v) returned empty verdict", a, b, broken)
			}
		}
	}
}

// TestBrokenOverrideHoldsInBothDirections checks spec.md §8 property 7:
// "broken overrides hold in both directions".
func TestBrokenOverrideHoldsInBothDirections(t *testing.T) {
	for _, other := range allOutcomes {
		assert.Equal(t, api.VerdictSameBuildFail, Compare(api.OutcomeBuildFail, other, true))
		assert.Equal(t, api.VerdictSameBuildFail, Compare(other, api.OutcomeBuildFail, true))
	}
}

func TestBrokenOverrideDoesNotAffectNonBuildFailOutcomes(t *testing.T) {
	assert.Equal(t, Compare(api.OutcomeTestPass, api.OutcomeTestFail, false),
		Compare(api.OutcomeTestPass, api.OutcomeTestFail, true))
}

func TestTimeoutsClassifyAsError(t *testing.T) {
	assert.Equal(t, Compare(api.OutcomeError, api.OutcomeTestPass, false),
		Compare(api.OutcomeTimeoutOverall, api.OutcomeTestPass, false))
	assert.Equal(t, Compare(api.OutcomeError, api.OutcomeTestPass, false),
		Compare(api.OutcomeTimeoutNoOutput, api.OutcomeTestPass, false))
}
