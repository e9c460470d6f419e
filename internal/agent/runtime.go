// Package agent is the cooperative worker loop of spec.md §4.5: fetch
// config once, pull experiments, run their jobs under the sandbox executor
// through a fixed-size worker pool, upload results, heartbeat
// independently, and surface infrastructure errors. Grounded on
// controller/processor.go's goroutine-plus-errgroup shape.
package agent

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/planner"
	"github.com/rust-lang/crater/internal/sandbox"
)

// WorkspaceBuilder prepares a job's workspace (source + lockfile +
// toolchain, network-enabled) and hands back a sandbox.CommandBuilder for
// its build/test phases -- the external collaborator of spec.md §1.
type WorkspaceBuilder interface {
	Prepare(ctx context.Context, pkg api.PackageRef, toolchain api.Toolchain) (sandbox.Workspace, sandbox.CommandBuilder, error)
	Cleanup(ws sandbox.Workspace)
}

// RemainingJob is one (package, toolchain-index) pair the agent still owes
// an outcome for, mirroring the server's store.Job shape without exposing
// store internals to the agent process.
type RemainingJob struct {
	Package        api.PackageRef
	ToolchainIndex int // 0 or 1, indexing Toolchains on the descriptor
}

// RemainingLister resolves which jobs of an assigned experiment still need
// outcomes, consulted once per experiment pickup per spec.md §4.5
// ("iterate its jobs by consulting the remaining set"). It's handed the
// full descriptor, not just the name, since the crate/toolchain set it
// needs to expand into jobs lives there and the agent has no separate
// job-listing endpoint to query.
type RemainingLister interface {
	Remaining(ctx context.Context, desc *api.ExperimentDescriptor) ([]RemainingJob, error)
}

type Runtime struct {
	client     *api.Client
	builder    WorkspaceBuilder
	remaining  RemainingLister
	sandboxCfg sandbox.Caps
	threads    int

	heartbeatEvery time.Duration
	pollBackoff    *backoff
}

type Config struct {
	Client         *api.Client
	Builder        WorkspaceBuilder
	Remaining      RemainingLister
	Threads        int
	SandboxCaps    sandbox.Caps
	HeartbeatEvery time.Duration
}

func New(cfg Config) *Runtime {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.HeartbeatEvery == 0 {
		cfg.HeartbeatEvery = time.Minute
	}
	return &Runtime{
		client:         cfg.Client,
		builder:        cfg.Builder,
		remaining:      cfg.Remaining,
		sandboxCfg:     cfg.SandboxCaps,
		threads:        cfg.Threads,
		heartbeatEvery: cfg.HeartbeatEvery,
		pollBackoff:    newBackoff(2*time.Second, 2*time.Minute),
	}
}

// Run fetches the server's config once, then loops indefinitely: pull an
// experiment, execute its remaining jobs, repeat. It returns the config
// fetch's error if that fails, and otherwise only when ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	if _, err := r.client.GetConfig(ctx); err != nil {
		return err
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go r.heartbeatLoop(heartbeatCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		desc, err := r.client.NextExperiment(ctx)
		if err != nil {
			log.Printf("agent: next-experiment failed: %v", err)
			r.sleep(ctx, r.pollBackoff.next())
			continue
		}
		if desc == nil {
			r.sleep(ctx, r.pollBackoff.next())
			continue
		}
		r.pollBackoff.reset()
		if err := r.runExperiment(ctx, desc); err != nil {
			log.Printf("agent: experiment %s ended with error: %v", desc.Name, err)
			_ = r.client.ReportError(ctx, &api.ErrorRequest{ExperimentName: desc.Name, Error: err.Error()})
		}
	}
}

func (r *Runtime) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// runExperiment executes every remaining job of desc using up to
// r.threads workers in parallel -- spec.md §4.5's "multiple threads within
// an agent may execute different jobs of the same experiment in
// parallel".
func (r *Runtime) runExperiment(ctx context.Context, desc *api.ExperimentDescriptor) error {
	jobs, err := r.remaining.Remaining(ctx, desc)
	if err != nil {
		return err
	}
	runsTests := planner.RunsTests(desc.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.threads)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return r.runJob(gctx, desc, job, runsTests)
		})
	}
	return g.Wait()
}

func (r *Runtime) runJob(ctx context.Context, desc *api.ExperimentDescriptor, job RemainingJob, runsTests bool) error {
	toolchain := desc.Toolchains[job.ToolchainIndex]
	ws, cmdBuilder, err := r.builder.Prepare(ctx, job.Package, toolchain)
	if err != nil {
		// infrastructure failure: surface it and let the other jobs go on.
		_ = r.client.ReportError(ctx, &api.ErrorRequest{ExperimentName: desc.Name, Error: err.Error()})
		return nil
	}
	defer r.builder.Cleanup(ws)

	executor := sandbox.New(cmdBuilder)
	result, err := executor.Run(ctx, ws, desc.Mode, runsTests, r.sandboxCfg)
	if err != nil {
		_ = r.client.ReportError(ctx, &api.ErrorRequest{ExperimentName: desc.Name, Error: err.Error()})
		return nil
	}

	req := &api.RecordProgressRequest{
		ExperimentName: desc.Name,
		Results: []api.JobResult{{
			Crate:     job.Package,
			Toolchain: toolchain,
			Result:    result.Outcome,
			Log:       result.Log,
		}},
	}
	err = r.client.RecordProgress(ctx, req)
	if status, ok := api.Status(err); ok && status == api.EnvelopeNotFound {
		// experiment was aborted underneath us; not a job failure.
		return nil
	}
	return err
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(ctx); err != nil {
				log.Printf("agent: heartbeat failed: %v", err)
			}
		}
	}
}
