package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"

	"github.com/rust-lang/crater/internal/api"
)

type JobRepository struct {
	client *spanner.Client
	*entityOps[Job, string]
}

func NewJobRepository(client *spanner.Client) *JobRepository {
	return &JobRepository{
		client: client,
		entityOps: &entityOps[Job, string]{
			client:   client,
			keyField: "ID",
			table:    "Jobs",
		},
	}
}

// InsertPlanned bulk-inserts the cartesian job set for a freshly created
// experiment with Outcome left NULL, per spec.md §4.3/§3 invariant 6 ("the
// set of jobs is fixed at the moment the experiment enters running" --
// here, fixed at creation time, which is no later).
func (repo *JobRepository) InsertPlanned(ctx context.Context, experimentName string,
	pkgs []api.PackageRef) error {
	var muts []*spanner.Mutation
	for _, pkg := range pkgs {
		encoded, err := json.Marshal(pkg)
		if err != nil {
			return err
		}
		for idx := 0; idx < 2; idx++ {
			job := &Job{
				ID:             uuid.NewString(),
				ExperimentName: experimentName,
				Package:        string(encoded),
				ToolchainIndex: int64(idx),
			}
			m, err := spanner.InsertStruct("Jobs", job)
			if err != nil {
				return err
			}
			muts = append(muts, m)
		}
	}
	_, err := repo.client.Apply(ctx, muts)
	return err
}

// RecordOutcome writes a job's terminal outcome and log blob URI. It is
// idempotent by (ExperimentName, Package, ToolchainIndex): a repeat call
// with the same outcome succeeds silently; a repeat call with a different
// outcome returns ErrConflictingOutcome -- spec.md §3 invariant 4 and §8
// item 2.
func (repo *JobRepository) RecordOutcome(ctx context.Context, experimentName string,
	pkg api.PackageRef, toolchainIndex int, outcome api.Outcome, logURI string, truncated bool) error {
	encodedPkg, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	_, err = repo.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		stmt := spanner.Statement{
			SQL: "SELECT * FROM `Jobs` WHERE `ExperimentName` = @exp AND `Package` = @pkg " +
				"AND `ToolchainIndex` = @idx",
			Params: map[string]interface{}{
				"exp": experimentName, "pkg": string(encodedPkg), "idx": int64(toolchainIndex),
			},
		}
		iter := txn.Query(ctx, stmt)
		job, err := readOne[Job](iter)
		iter.Stop()
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, experimentName, pkg)
		}
		if job.HasOutcome() {
			if job.Outcome.StringVal == string(outcome) {
				return nil // idempotent: identical outcome reported twice.
			}
			return ErrConflictingOutcome
		}
		job.SetOutcome(outcome)
		job.LogURI = spanner.NullString{StringVal: logURI, Valid: logURI != ""}
		job.LogTruncated = truncated
		job.RecordedAt = spanner.NullTime{Time: time.Now(), Valid: true}
		m, err := spanner.UpdateStruct("Jobs", job)
		if err != nil {
			return err
		}
		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	return err
}

var ErrConflictingOutcome = fmt.Errorf("job already has a different recorded outcome")

// IncrementRetry bumps RetryCount and returns the new value, used by the
// spurious-failure bookkeeping described in SPEC_FULL.md §10.
func (repo *JobRepository) IncrementRetry(ctx context.Context, jobID string) (int64, error) {
	var newCount int64
	err := repo.Update(ctx, jobID, func(job *Job) error {
		job.RetryCount++
		newCount = job.RetryCount
		return nil
	})
	return newCount, err
}

func (repo *JobRepository) CompletedCount(ctx context.Context, experimentName string) (int64, error) {
	stmt := spanner.Statement{
		SQL: "SELECT COUNT(*) FROM `Jobs` WHERE `ExperimentName` = @exp AND `Outcome` IS NOT NULL",
		Params: map[string]interface{}{"exp": experimentName},
	}
	var count int64
	err := repo.client.Single().Query(ctx, stmt).Do(func(row *spanner.Row) error {
		return row.Column(0, &count)
	})
	return count, err
}

func (repo *JobRepository) TotalCount(ctx context.Context, experimentName string) (int64, error) {
	stmt := spanner.Statement{
		SQL:    "SELECT COUNT(*) FROM `Jobs` WHERE `ExperimentName` = @exp",
		Params: map[string]interface{}{"exp": experimentName},
	}
	var count int64
	err := repo.client.Single().Query(ctx, stmt).Do(func(row *spanner.Row) error {
		return row.Column(0, &count)
	})
	return count, err
}

func (repo *JobRepository) AllOutcomes(ctx context.Context, experimentName string) ([]*Job, error) {
	stmt := spanner.Statement{
		SQL:    "SELECT * FROM `Jobs` WHERE `ExperimentName` = @exp",
		Params: map[string]interface{}{"exp": experimentName},
	}
	iter := repo.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	return readEntities[Job](iter)
}

// RemainingForExperiment lists jobs that still need an outcome. No agent-api
// endpoint exposes it; the agent's FullJobSet re-runs every job instead.
func (repo *JobRepository) RemainingForExperiment(ctx context.Context, experimentName string) ([]*Job, error) {
	stmt := spanner.Statement{
		SQL:    "SELECT * FROM `Jobs` WHERE `ExperimentName` = @exp AND `Outcome` IS NULL",
		Params: map[string]interface{}{"exp": experimentName},
	}
	iter := repo.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	return readEntities[Job](iter)
}
