package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"

	"github.com/rust-lang/crater/internal/api"
)

type ExperimentRepository struct {
	client *spanner.Client
	*entityOps[Experiment, string]
}

func NewExperimentRepository(client *spanner.Client) *ExperimentRepository {
	return &ExperimentRepository{
		client: client,
		entityOps: &entityOps[Experiment, string]{
			client:   client,
			keyField: "Name",
			table:    "Experiments",
		},
	}
}

var ErrExperimentExists = fmt.Errorf("an experiment with this name already exists")

// Create inserts the experiment row in status "queued". Uniqueness of Name
// is enforced by the primary key: a duplicate Insert surfaces as an
// AlreadyExists Spanner error, translated to ErrExperimentExists.
func (repo *ExperimentRepository) Create(ctx context.Context, exp *Experiment) error {
	m, err := spanner.InsertStruct("Experiments", exp)
	if err != nil {
		return err
	}
	_, err = repo.client.Apply(ctx, []*spanner.Mutation{m})
	if spanner.ErrCode(err) == 6 /* AlreadyExists */ {
		return ErrExperimentExists
	}
	return err
}

// EditIfQueued applies cb only if the experiment is still StatusQueued,
// returning ErrNotQueued otherwise -- spec.md §3 invariant 3 / §4.2. The
// read-check-write happens inside one transaction, so it can never race a
// concurrent Assign (see AssignNext below), resolving the Open Question in
// spec.md §9 by serializing edits and assignment through the store.
func (repo *ExperimentRepository) EditIfQueued(ctx context.Context, name string,
	cb func(*Experiment) error) error {
	return repo.Update(ctx, name, func(exp *Experiment) error {
		if exp.Status != string(api.StatusQueued) {
			return ErrNotQueued
		}
		return cb(exp)
	})
}

var ErrNotQueued = fmt.Errorf("experiment has left the queued state")

// EditPriorityOrAssign is allowed up until the experiment completes, per
// spec.md §3 invariant 3 ("priority and assignee are editable until running
// completes").
func (repo *ExperimentRepository) EditPriorityOrAssign(ctx context.Context, name string,
	priority *int64, assign *string) error {
	return repo.Update(ctx, name, func(exp *Experiment) error {
		if exp.Status == string(api.StatusCompleted) || exp.Status == string(api.StatusAborted) {
			return ErrNotQueued
		}
		if priority != nil {
			exp.Priority = *priority
		}
		if assign != nil {
			exp.Assign = spanner.NullString{StringVal: *assign, Valid: *assign != ""}
		}
		return nil
	})
}

// AssignNext picks the highest-priority queued experiment whose Requirement
// is a subset of capabilities, ties broken by CreatedAt ascending, and
// transitions it to running with agentName assigned -- spec.md §4.2/§8
// item 3. If assign is set on a candidate row, only that named agent is
// permitted to pick it up.
//
// The whole select-then-transition happens inside one read-write
// transaction, giving the linearizable dispatch order spec.md §5 requires:
// concurrent agent requests serialize through Spanner's transaction
// conflict detection.
func (repo *ExperimentRepository) AssignNext(ctx context.Context, agentName string,
	capabilities []string) (*Experiment, error) {
	var picked *Experiment
	_, err := repo.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		picked = nil
		stmt := spanner.Statement{
			SQL: "SELECT * FROM `Experiments` WHERE `Status` = @status " +
				"ORDER BY `Priority` DESC, `CreatedAt` ASC",
			Params: map[string]interface{}{"status": string(api.StatusQueued)},
		}
		iter := txn.Query(ctx, stmt)
		defer iter.Stop()
		candidates, err := readEntities[Experiment](iter)
		if err != nil {
			return err
		}
		for _, cand := range candidates {
			if cand.Assign.Valid && cand.Assign.StringVal != agentName {
				continue
			}
			if !subsetOf(cand.Requirement, capabilities) {
				continue
			}
			cand.Status = string(api.StatusRunning)
			cand.SetAssignedAgent(agentName)
			cand.SetStarted(time.Now())
			m, err := spanner.UpdateStruct("Experiments", cand)
			if err != nil {
				return err
			}
			if err := txn.BufferWrite([]*spanner.Mutation{m}); err != nil {
				return err
			}
			picked = cand
			return nil
		}
		return nil
	})
	return picked, err
}

func subsetOf(required, available []string) bool {
	set := make(map[string]bool, len(available))
	for _, a := range available {
		set[a] = true
	}
	for _, r := range required {
		if !set[r] {
			return false
		}
	}
	return true
}

// Abort tombstones the experiment from any pre-completion state and
// releases its agent assignment, spec.md §3's lifecycle.
func (repo *ExperimentRepository) Abort(ctx context.Context, name string) error {
	return repo.Update(ctx, name, func(exp *Experiment) error {
		if exp.Status == string(api.StatusCompleted) {
			return ErrAlreadyCompleted
		}
		exp.Status = string(api.StatusAborted)
		exp.SetAssignedAgent("")
		return nil
	})
}

var ErrAlreadyCompleted = fmt.Errorf("experiment has already completed")

// AssignReportState performs the compare-and-set driven by the report
// collaborator: needs-report -> generating-report -> completed/report-failed.
func (repo *ExperimentRepository) AssignReportState(ctx context.Context, name string,
	from, to api.Status) error {
	return repo.Update(ctx, name, func(exp *Experiment) error {
		if exp.Status != string(from) {
			// Identical conflicting transitions are idempotent successes per
			// spec.md §7; anything else is a genuine conflict.
			if exp.Status == string(to) {
				return nil
			}
			return ErrStateConflict
		}
		exp.Status = string(to)
		if to == api.StatusCompleted {
			exp.SetCompleted(time.Now())
		}
		return nil
	})
}

var ErrStateConflict = fmt.Errorf("illegal experiment state transition")

// ReleaseFromAgent returns every running experiment assigned to agentName
// back to the queue, clearing its assignment -- the reassignment sweep
// triggered when an agent goes stale, per spec.md §4.5. Each experiment is
// released in its own transaction so one conflicting row can't block the
// rest of the sweep.
func (repo *ExperimentRepository) ReleaseFromAgent(ctx context.Context, agentName string) ([]string, error) {
	stmt := spanner.Statement{
		SQL: "SELECT * FROM `Experiments` WHERE `Status` = @status AND `AssignedAgent` = @agent",
		Params: map[string]interface{}{"status": string(api.StatusRunning), "agent": agentName},
	}
	iter := repo.client.Single().Query(ctx, stmt)
	running, err := readEntities[Experiment](iter)
	iter.Stop()
	if err != nil {
		return nil, err
	}
	var released []string
	for _, exp := range running {
		err := repo.Update(ctx, exp.Name, func(exp *Experiment) error {
			if exp.Status != string(api.StatusRunning) || exp.AssignedAgent.StringVal != agentName {
				return nil // raced with a concurrent completion or reassignment
			}
			exp.Status = string(api.StatusQueued)
			exp.SetAssignedAgent("")
			exp.StartedAt = spanner.NullTime{}
			return nil
		})
		if err != nil {
			return released, err
		}
		released = append(released, exp.Name)
	}
	return released, nil
}

func (repo *ExperimentRepository) List(ctx context.Context, status api.Status) ([]*Experiment, error) {
	stmt := spanner.Statement{SQL: "SELECT * FROM `Experiments` WHERE `Status` = @status",
		Params: map[string]interface{}{"status": string(status)}}
	iter := repo.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	return readEntities[Experiment](iter)
}
