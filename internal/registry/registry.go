// Package registry implements the experiment lifecycle of spec.md §4.2 on
// top of the state store: validation at creation time, edit-while-queued
// enforcement, and eager job-set expansion. Grounded on
// syz-cluster/controller/processor.go's pattern of wrapping a store
// repository with business-rule checks before every mutation.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/crater"
	"github.com/rust-lang/crater/internal/planner"
	"github.com/rust-lang/crater/internal/policy"
	"github.com/rust-lang/crater/internal/store"
)

// CorpusIndex resolves whether a package exists in the known corpus and
// expands selection strategies (top-N, random-N, demo) into explicit
// package lists. It is an external collaborator per spec.md §1 -- corpus
// discovery is out of scope for the core.
type CorpusIndex interface {
	Known(pkg api.PackageRef) bool
	Resolve(ctx context.Context, sel api.CrateSelection) ([]api.PackageRef, error)
}

// nameRE matches the experiment name grammar from original_source/src/experiments.rs:
// alphanumeric plus dash/underscore/dot/slash/colon, 1-200 bytes (GitHub PR
// branch names and bot-supplied names such as "pr-1234" or "user/branch").
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_.:/-]{1,200}$`)

type Registry struct {
	experiments *store.ExperimentRepository
	jobs        *store.JobRepository
	corpus      CorpusIndex
	policy      *policy.Config
}

func New(experiments *store.ExperimentRepository, jobs *store.JobRepository,
	corpus CorpusIndex, pol *policy.Config) *Registry {
	return &Registry{experiments: experiments, jobs: jobs, corpus: corpus, policy: pol}
}

// Create validates req, resolves its crate selection against the corpus,
// computes the cartesian job set eagerly, and persists both -- spec.md
// §4.2 and invariant 6 ("the set of jobs is fixed... no later than
// running").  Here it's fixed even earlier, at creation.
func (r *Registry) Create(ctx context.Context, req api.CreateExperimentRequest) (*api.Experiment, error) {
	if !nameRE.MatchString(req.Name) {
		return nil, crater.ConfigError(fmt.Sprintf("invalid experiment name %q", req.Name), nil)
	}
	if err := validateToolchain(req.ToolchainA); err != nil {
		return nil, crater.ConfigError("toolchain_a", err)
	}
	if err := validateToolchain(req.ToolchainB); err != nil {
		return nil, crater.ConfigError("toolchain_b", err)
	}
	pkgs, err := r.corpus.Resolve(ctx, req.Crates)
	if err != nil {
		return nil, crater.ConfigError("resolving crate selection", err)
	}
	for _, pkg := range pkgs {
		if !r.corpus.Known(pkg) {
			return nil, crater.ConfigError(fmt.Sprintf("unknown package %v", pkg), nil)
		}
	}

	planned := planner.Plan(pkgs, req.Mode, r.policy.OverridesFor)

	toolchainA, err := marshalToolchain(req.ToolchainA)
	if err != nil {
		return nil, err
	}
	toolchainB, err := marshalToolchain(req.ToolchainB)
	if err != nil {
		return nil, err
	}
	crates, err := marshalCrates(req.Crates)
	if err != nil {
		return nil, err
	}

	requirement := req.Requirement
	if requirement == nil {
		requirement = []string{} // the Requirement column is NOT NULL; a nil slice would be written as NULL
	}
	row := &store.Experiment{
		Name:            req.Name,
		ToolchainA:      toolchainA,
		ToolchainB:      toolchainB,
		Mode:            string(req.Mode),
		Crates:          crates,
		CapLints:        string(req.CapLints),
		IgnoreBlacklist: req.IgnoreBlacklist,
		Requirement:     requirement,
		Priority:        req.Priority,
		RequesterLogin:  req.RequesterLogin,
		Status:          string(api.StatusQueued),
		CreatedAt:       time.Now(),
	}
	if req.Assign != "" {
		row.Assign.StringVal, row.Assign.Valid = req.Assign, true
	}
	if req.GitHubThreadURL != "" {
		row.GitHubThreadURL.StringVal, row.GitHubThreadURL.Valid = req.GitHubThreadURL, true
	}

	if err := r.experiments.Create(ctx, row); err != nil {
		if err == store.ErrExperimentExists {
			return nil, crater.StateConflictError("experiment already exists", err)
		}
		return nil, crater.TransientError("creating experiment", err)
	}
	if err := r.jobs.InsertPlanned(ctx, req.Name, planned.Packages); err != nil {
		return nil, crater.TransientError("planning jobs", err)
	}
	return toAPI(row), nil
}

func validateToolchain(tc api.Toolchain) error {
	if tc.Dist == "" && tc.CI == "" {
		return fmt.Errorf("toolchain must set either dist or ci")
	}
	if tc.Dist != "" && tc.CI != "" {
		return fmt.Errorf("toolchain cannot set both dist and ci")
	}
	return nil
}

// Edit mutates a queued experiment's toolchains/mode/crates, or, for any
// pre-completion experiment, its priority/assignee -- spec.md §3 invariant 3.
func (r *Registry) Edit(ctx context.Context, req api.EditExperimentRequest) error {
	touchesLockedFields := req.ToolchainA != nil || req.ToolchainB != nil ||
		req.Mode != nil || req.Crates != nil
	if touchesLockedFields {
		err := r.experiments.EditIfQueued(ctx, req.Name, func(exp *store.Experiment) error {
			if req.ToolchainA != nil {
				encoded, err := marshalToolchain(*req.ToolchainA)
				if err != nil {
					return err
				}
				exp.ToolchainA = encoded
			}
			if req.ToolchainB != nil {
				encoded, err := marshalToolchain(*req.ToolchainB)
				if err != nil {
					return err
				}
				exp.ToolchainB = encoded
			}
			if req.Mode != nil {
				exp.Mode = string(*req.Mode)
			}
			if req.Crates != nil {
				encoded, err := marshalCrates(*req.Crates)
				if err != nil {
					return err
				}
				exp.Crates = encoded
			}
			return nil
		})
		if err == store.ErrNotQueued {
			return crater.StateConflictError("experiment has left the queued state", err)
		}
		if err == store.ErrNotFound {
			return crater.NotFoundError("experiment not found", err)
		}
		if err != nil {
			return crater.TransientError("editing experiment", err)
		}
	}
	if req.Priority != nil || req.Assign != nil {
		err := r.experiments.EditPriorityOrAssign(ctx, req.Name, req.Priority, req.Assign)
		if err == store.ErrNotQueued {
			return crater.StateConflictError("experiment has already completed", err)
		}
		if err == store.ErrNotFound {
			return crater.NotFoundError("experiment not found", err)
		}
		if err != nil {
			return crater.TransientError("editing experiment", err)
		}
	}
	return nil
}

// Assign hands the next matching queued experiment to agentName, or nil if
// the queue holds nothing the agent is eligible for -- spec.md §4.2.
func (r *Registry) Assign(ctx context.Context, agentName string, capabilities []string) (*api.ExperimentDescriptor, error) {
	exp, err := r.experiments.AssignNext(ctx, agentName, capabilities)
	if err != nil {
		return nil, crater.TransientError("assigning next experiment", err)
	}
	if exp == nil {
		return nil, nil
	}
	toolchainA, toolchainB, err := exp.DecodeToolchains()
	if err != nil {
		return nil, crater.FatalError("decoding stored toolchains", err)
	}
	crates, err := exp.DecodeCrates()
	if err != nil {
		return nil, crater.FatalError("decoding stored crate selection", err)
	}
	pkgs, err := r.corpus.Resolve(ctx, crates)
	if err != nil {
		return nil, crater.TransientError("resolving crate selection", err)
	}
	return &api.ExperimentDescriptor{
		Name:        exp.Name,
		Crates:      pkgs,
		Toolchains:  [2]api.Toolchain{toolchainA, toolchainB},
		Mode:        api.Mode(exp.Mode),
		CapLints:    api.LintCap(exp.CapLints),
		Requirement: exp.Requirement,
	}, nil
}

// Abort tombstones name from any pre-completion state, spec.md §5.
func (r *Registry) Abort(ctx context.Context, name string) error {
	err := r.experiments.Abort(ctx, name)
	if err == store.ErrAlreadyCompleted {
		return crater.StateConflictError("experiment already completed", err)
	}
	if err == store.ErrNotFound {
		return crater.NotFoundError("experiment not found", err)
	}
	if err != nil {
		return crater.TransientError("aborting experiment", err)
	}
	return nil
}

// CheckComplete marks name needs-report once every planned job has a
// recorded outcome, spec.md §4.3 ("completion is detected by
// completed_count == total_jobs").
func (r *Registry) CheckComplete(ctx context.Context, name string) error {
	completed, err := r.jobs.CompletedCount(ctx, name)
	if err != nil {
		return crater.TransientError("counting completed jobs", err)
	}
	total, err := r.jobs.TotalCount(ctx, name)
	if err != nil {
		return crater.TransientError("counting total jobs", err)
	}
	if completed < total {
		return nil
	}
	err = r.experiments.AssignReportState(ctx, name, api.StatusRunning, api.StatusNeedsReport)
	if err == store.ErrStateConflict {
		return crater.StateConflictError("experiment already left running", err)
	}
	if err != nil {
		return crater.TransientError("transitioning to needs-report", err)
	}
	return nil
}

// RetryReport re-queues a report-failed experiment for report generation,
// the retry-report operator command of spec.md §6.
func (r *Registry) RetryReport(ctx context.Context, name string) error {
	err := r.experiments.AssignReportState(ctx, name, api.StatusReportFailed, api.StatusNeedsReport)
	if err == store.ErrStateConflict {
		return crater.StateConflictError("experiment is not in report-failed", err)
	}
	if err != nil {
		return crater.TransientError("retrying report", err)
	}
	return nil
}

// ReleaseStaleAgents returns every running experiment assigned to an agent
// that hasn't heartbeated since cutoff back to the queue, spec.md §4.5's
// stale-agent detection. It does not remove the stale agent rows themselves
// -- an agent that comes back just resumes heartbeating.
func (r *Registry) ReleaseStaleAgents(ctx context.Context, stale []*store.Agent) error {
	for _, ag := range stale {
		if _, err := r.experiments.ReleaseFromAgent(ctx, ag.Name); err != nil {
			return crater.TransientError(fmt.Sprintf("releasing assignments for stale agent %s", ag.Name), err)
		}
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, name string) (*api.Experiment, error) {
	row, err := r.experiments.GetByID(ctx, name)
	if err != nil {
		return nil, crater.TransientError("loading experiment", err)
	}
	if row == nil {
		return nil, crater.NotFoundError("experiment not found", nil)
	}
	return toAPI(row), nil
}

func (r *Registry) List(ctx context.Context, status api.Status) ([]*api.Experiment, error) {
	rows, err := r.experiments.List(ctx, status)
	if err != nil {
		return nil, crater.TransientError("listing experiments", err)
	}
	ret := make([]*api.Experiment, len(rows))
	for i, row := range rows {
		ret[i] = toAPI(row)
	}
	return ret, nil
}

func toAPI(row *store.Experiment) *api.Experiment {
	exp := &api.Experiment{
		Name:            row.Name,
		Mode:            api.Mode(row.Mode),
		CapLints:        api.LintCap(row.CapLints),
		IgnoreBlacklist: row.IgnoreBlacklist,
		Requirement:     row.Requirement,
		Priority:        row.Priority,
		AssignedAgent:   row.AssignedAgent.StringVal,
		Assign:          row.Assign.StringVal,
		RequesterLogin:  row.RequesterLogin,
		GitHubThreadURL: row.GitHubThreadURL.StringVal,
		Status:          api.Status(row.Status),
		CreatedAt:       row.CreatedAt,
	}
	if a, b, err := row.DecodeToolchains(); err == nil {
		exp.ToolchainA, exp.ToolchainB = a, b
	}
	if sel, err := row.DecodeCrates(); err == nil {
		exp.Crates = sel
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		exp.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		exp.CompletedAt = &t
	}
	return exp
}
