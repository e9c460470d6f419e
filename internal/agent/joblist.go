package agent

import (
	"context"

	"github.com/rust-lang/crater/internal/api"
)

// FullJobSet is the default RemainingLister: it treats every (package,
// toolchain) pair in the descriptor as still owed. Record-progress is
// idempotent on an identical repeat (store.JobRepository.RecordOutcome),
// so re-running a job the agent already reported -- which can happen after
// a crash-and-reassignment, since the agent API has no separate endpoint
// for querying already-recorded outcomes -- is always safe, just wasted
// work on the retried jobs.
type FullJobSet struct{}

func (FullJobSet) Remaining(ctx context.Context, desc *api.ExperimentDescriptor) ([]RemainingJob, error) {
	jobs := make([]RemainingJob, 0, len(desc.Crates)*2)
	for _, pkg := range desc.Crates {
		jobs = append(jobs, RemainingJob{Package: pkg, ToolchainIndex: 0})
		jobs = append(jobs, RemainingJob{Package: pkg, ToolchainIndex: 1})
	}
	return jobs, nil
}
