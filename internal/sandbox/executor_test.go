package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-lang/crater/internal/api"
)

type scriptedBuilder struct {
	buildArgv []string
	testArgv  []string
}

func (b scriptedBuilder) BuildCommand(ctx context.Context, ws Workspace) (*exec.Cmd, error) {
	return exec.Command(b.buildArgv[0], b.buildArgv[1:]...), nil
}

func (b scriptedBuilder) TestCommand(ctx context.Context, ws Workspace) (*exec.Cmd, error) {
	return exec.Command(b.testArgv[0], b.testArgv[1:]...), nil
}

func testCaps() Caps {
	return Caps{
		MemoryLimitBytes: 0, // skip the ulimit wrapper so the test doesn't need /bin/sh semantics verified
		BuildLogMaxSize:  1 << 20,
		BuildLogMaxLines: 1000,
		OverallTimeout:   5 * time.Second,
		NoOutputTimeout:  0,
	}
}

func TestExecutorBuildAndTestPass(t *testing.T) {
	builder := scriptedBuilder{
		buildArgv: []string{"/bin/sh", "-c", "echo building"},
		testArgv:  []string{"/bin/sh", "-c", "echo testing"},
	}
	executor := New(builder)
	result, err := executor.Run(context.Background(), Workspace{Dir: t.TempDir()}, api.ModeBuildAndTest, true, testCaps())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeTestPass, result.Outcome)
	log, decodeErr := DecompressLog(result.Log)
	require.NoError(t, decodeErr)
	assert.Contains(t, string(log), "testing")
}

func TestExecutorBuildFailureSkipsTestPhase(t *testing.T) {
	builder := scriptedBuilder{
		buildArgv: []string{"/bin/sh", "-c", "echo nope; exit 1"},
		testArgv:  []string{"/bin/sh", "-c", "echo should-not-run"},
	}
	executor := New(builder)
	result, err := executor.Run(context.Background(), Workspace{Dir: t.TempDir()}, api.ModeBuildAndTest, true, testCaps())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeBuildFail, result.Outcome)
	log, decodeErr := DecompressLog(result.Log)
	require.NoError(t, decodeErr)
	assert.NotContains(t, string(log), "should-not-run")
}

func TestExecutorModeWithoutTestsSkipsTestPhase(t *testing.T) {
	builder := scriptedBuilder{
		buildArgv: []string{"/bin/sh", "-c", "echo building"},
		testArgv:  []string{"/bin/sh", "-c", "echo should-not-run"},
	}
	executor := New(builder)
	result, err := executor.Run(context.Background(), Workspace{Dir: t.TempDir()}, api.ModeCheckOnly, false, testCaps())
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeTestSkipped, result.Outcome)
}

func TestExecutorOverallTimeout(t *testing.T) {
	builder := scriptedBuilder{
		buildArgv: []string{"/bin/sh", "-c", "sleep 30"},
		testArgv:  []string{"/bin/sh", "-c", "echo unused"},
	}
	caps := testCaps()
	caps.OverallTimeout = 200 * time.Millisecond
	executor := New(builder)
	start := time.Now()
	result, err := executor.Run(context.Background(), Workspace{Dir: t.TempDir()}, api.ModeBuildAndTest, true, caps)
	require.NoError(t, err)
	assert.Equal(t, api.OutcomeTimeoutOverall, result.Outcome)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestPhaseTrackerPanicsOnIllegalTransition(t *testing.T) {
	assert.Panics(t, func() {
		tr := &tracker{current: PhasePending}
		tr.advance(PhaseRunningTest) // must go through preparing/running-build first
	})
}

func TestLogCaptureTruncatesOnByteLimit(t *testing.T) {
	c := newLogCapture(10, 1000)
	_, _ = c.Write([]byte("0123456789extra"))
	compressed, truncated := c.compressed()
	assert.True(t, truncated)
	decoded, err := DecompressLog(compressed)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), truncationMarker)
}

func TestLogCaptureTruncatesOnLineLimit(t *testing.T) {
	c := newLogCapture(1<<20, 2)
	_, _ = c.Write([]byte("a\nb\nc\nd\n"))
	_, truncated := c.compressed()
	assert.True(t, truncated)
}
