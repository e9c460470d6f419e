// Package sandbox runs a single job to completion under isolation, spec.md
// §4.4. Grounded on pkg/osutil.Run's timer-race pattern, generalized with a
// no-output timer, a memory rlimit, and bounded+compressed log capture.
package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/crater"
	"github.com/rust-lang/crater/internal/policy"
)

// Workspace is the prepared build directory the agent's workspace builder
// hands to the executor. Preparation (network-enabled source fetch)
// happens before the executor is invoked -- it is phase 1 and is not
// sandboxed. The executor runs the build and test commands directly in
// Dir: it does not mount the source read-only, cut off network access, or
// give the job a separate scratch target directory.
type Workspace struct {
	Dir      string
	Toolchain api.Toolchain
}

// CommandBuilder constructs the not-yet-started commands for a job's
// build and test phases. It is supplied by the agent's workspace builder,
// an external collaborator per spec.md §1 -- compilation invocation
// details are out of scope for the core.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, ws Workspace) (*exec.Cmd, error)
	TestCommand(ctx context.Context, ws Workspace) (*exec.Cmd, error)
}

// Caps are the effective resource limits for one job, derived from
// policy.SandboxCaps plus the package's slow/quiet overrides.
type Caps struct {
	MemoryLimitBytes   int64
	BuildLogMaxSize    int64
	BuildLogMaxLines   int
	OverallTimeout     time.Duration
	NoOutputTimeout    time.Duration // zero disables the no-output timer
}

// EffectiveCaps applies the slow/quiet per-package overrides from spec.md
// §4.3 to the sandbox's base configuration.
func EffectiveCaps(base policy.SandboxCaps, override policy.Override) Caps {
	overall := time.Duration(base.OverallTimeoutSec) * time.Second
	if override.Slow {
		overall *= 2
	}
	noOutput := time.Duration(base.NoOutputTimeoutSec) * time.Second
	if override.Quiet {
		noOutput = 0
	}
	return Caps{
		MemoryLimitBytes: base.MemoryLimitBytes,
		BuildLogMaxSize:  base.BuildLogMaxSize,
		BuildLogMaxLines: base.BuildLogMaxLines,
		OverallTimeout:   overall,
		NoOutputTimeout:  noOutput,
	}
}

// Result is a single job's verdict, ready to hand to the agent runtime for
// upload via /record-progress.
type Result struct {
	Outcome   api.Outcome
	Log       []byte // zstd-compressed
	Truncated bool
}

type Executor struct {
	builder CommandBuilder
}

func New(builder CommandBuilder) *Executor {
	return &Executor{builder: builder}
}

// Run executes one job's build phase, and its test phase if mode requests
// one, following the state machine and outcome mapping of spec.md §4.4.
func (e *Executor) Run(ctx context.Context, ws Workspace, mode api.Mode, runsTests bool, caps Caps) (Result, error) {
	t := &tracker{current: PhasePending}
	t.advance(PhasePreparing)
	t.advance(PhaseRunningBuild)

	capture := newLogCapture(caps.BuildLogMaxSize, caps.BuildLogMaxLines)

	buildCmd, err := e.builder.BuildCommand(ctx, ws)
	if err != nil {
		return Result{}, crater.SandboxFailureError("constructing build command", err)
	}
	outcome, err := e.runPhase(buildCmd, capture, caps, api.OutcomeBuildFail)
	if err != nil {
		return Result{}, err
	}
	if outcome != api.OutcomeTestPass {
		// build itself failed, or the phase timed out: the build-phase
		// outcome stands as-is and the test phase is skipped entirely.
		t.advance(PhaseDone)
		return e.finish(outcome, capture), nil
	}

	if !runsTests {
		t.advance(PhaseDone)
		return e.finish(api.OutcomeTestSkipped, capture), nil
	}

	t.advance(PhaseRunningTest)
	testCmd, err := e.builder.TestCommand(ctx, ws)
	if err != nil {
		return Result{}, crater.SandboxFailureError("constructing test command", err)
	}
	testOutcome, err := e.runPhase(testCmd, capture, caps, api.OutcomeTestFail)
	if err != nil {
		return Result{}, err
	}
	t.advance(PhaseDone)
	return e.finish(testOutcome, capture), nil
}

func (e *Executor) finish(outcome api.Outcome, capture *logCapture) Result {
	log, truncated := capture.compressed()
	return Result{Outcome: outcome, Log: log, Truncated: truncated}
}

// phaseSignal is the internal vocabulary runPhase reports before the
// caller maps it onto the right spec.md outcome for its phase (build vs.
// test outcomes diverge even though the underlying signal is the same).
type phaseSignal int

const (
	signalSuccess phaseSignal = iota
	signalFailure
	signalTimeoutOverall
	signalTimeoutNoOutput
)

// runPhase runs cmd to completion under caps, racing the overall timeout
// against a periodic no-output check, mirroring pkg/osutil.Run's
// timer/done-channel race but adding the no-output dimension and memory
// rlimit of spec.md §4.4.
func (e *Executor) runPhase(cmd *exec.Cmd, capture *logCapture, caps Caps, onFailure api.Outcome) (api.Outcome, error) {
	sig, err := e.runCommand(cmd, capture, caps)
	if err != nil {
		return "", crater.SandboxFailureError("running sandboxed command", err)
	}
	switch sig {
	case signalSuccess:
		return api.OutcomeTestPass, nil
	case signalFailure:
		return onFailure, nil
	case signalTimeoutOverall:
		return api.OutcomeTimeoutOverall, nil
	case signalTimeoutNoOutput:
		return api.OutcomeTimeoutNoOutput, nil
	default:
		return api.OutcomeError, nil
	}
}

func (e *Executor) runCommand(cmd *exec.Cmd, capture *logCapture, caps Caps) (phaseSignal, error) {
	if caps.MemoryLimitBytes > 0 {
		cmd.Args = wrapWithMemoryLimit(cmd.Args, caps.MemoryLimitBytes)
		cmd.Path = cmd.Args[0]
	}
	cmd.Stdout = capture
	cmd.Stderr = capture
	setupProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %v: %w", cmd.Args, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	overall := time.NewTimer(caps.OverallTimeout)
	defer overall.Stop()

	var noOutput *time.Ticker
	var noOutputC <-chan time.Time
	if caps.NoOutputTimeout > 0 {
		noOutput = time.NewTicker(caps.NoOutputTimeout)
		defer noOutput.Stop()
		noOutputC = noOutput.C
	}

	for {
		select {
		case err := <-done:
			if err == nil {
				return signalSuccess, nil
			}
			if _, ok := err.(*exec.ExitError); ok {
				return signalFailure, nil
			}
			return 0, err
		case <-overall.C:
			e.terminate(cmd, done)
			return signalTimeoutOverall, nil
		case <-noOutputC:
			if !capture.sawOutput() {
				e.terminate(cmd, done)
				return signalTimeoutNoOutput, nil
			}
		}
	}
}

// terminate sends SIGTERM to the process group and gives it a grace
// period before SIGKILL, spec.md §5's "in-flight sandboxes receive
// SIGTERM, then SIGKILL after a grace period".
func (e *Executor) terminate(cmd *exec.Cmd, done <-chan error) {
	killGroup(cmd)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		killGroupHard(cmd)
		<-done
	}
}
