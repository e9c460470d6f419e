package store

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/spanner"

	"github.com/rust-lang/crater/internal/api"
)

// Experiment is the Spanner row backing api.Experiment. Toolchains and crate
// selection are stored as JSON columns -- Spanner has no native tagged-union
// type, and these fields are never queried on, only round-tripped.
type Experiment struct {
	Name            string             `spanner:"Name"`
	ToolchainA      string             `spanner:"ToolchainA"` // JSON-encoded api.Toolchain
	ToolchainB      string             `spanner:"ToolchainB"`
	Mode            string             `spanner:"Mode"`
	Crates          string             `spanner:"Crates"` // JSON-encoded api.CrateSelection
	CapLints        string             `spanner:"CapLints"`
	IgnoreBlacklist bool               `spanner:"IgnoreBlacklist"`
	Requirement     []string           `spanner:"Requirement"`
	Priority        int64              `spanner:"Priority"`
	AssignedAgent   spanner.NullString `spanner:"AssignedAgent"`
	Assign          spanner.NullString `spanner:"Assign"`
	RequesterLogin  string             `spanner:"RequesterLogin"`
	GitHubThreadURL spanner.NullString `spanner:"GitHubThreadURL"`
	Status          string             `spanner:"Status"`
	CreatedAt       time.Time          `spanner:"CreatedAt"`
	StartedAt       spanner.NullTime   `spanner:"StartedAt"`
	CompletedAt     spanner.NullTime   `spanner:"CompletedAt"`
}

func (e *Experiment) DecodeToolchains() (a, b api.Toolchain, err error) {
	if err = json.Unmarshal([]byte(e.ToolchainA), &a); err != nil {
		return
	}
	err = json.Unmarshal([]byte(e.ToolchainB), &b)
	return
}

func (e *Experiment) DecodeCrates() (api.CrateSelection, error) {
	var sel api.CrateSelection
	err := json.Unmarshal([]byte(e.Crates), &sel)
	return sel, err
}

func (e *Experiment) SetAssignedAgent(name string) {
	e.AssignedAgent = spanner.NullString{StringVal: name, Valid: name != ""}
}

func (e *Experiment) SetStarted(t time.Time) {
	e.StartedAt = spanner.NullTime{Time: t, Valid: true}
}

func (e *Experiment) SetCompleted(t time.Time) {
	e.CompletedAt = spanner.NullTime{Time: t, Valid: true}
}

// Job is a single (experiment, package, toolchain) unit, spec.md §3.
// Outcome/Log fields are NULL until an agent reports a result.
type Job struct {
	ID             string             `spanner:"ID"`
	ExperimentName string             `spanner:"ExperimentName"`
	Package        string             `spanner:"Package"` // JSON-encoded api.PackageRef
	ToolchainIndex int64              `spanner:"ToolchainIndex"` // 0 or 1, which side of the pair
	Outcome        spanner.NullString `spanner:"Outcome"`
	LogURI         spanner.NullString `spanner:"LogURI"`
	LogTruncated   bool               `spanner:"LogTruncated"`
	RetryCount     int64              `spanner:"RetryCount"`
	RecordedAt     spanner.NullTime   `spanner:"RecordedAt"`
}

func (j *Job) DecodePackage() (api.PackageRef, error) {
	var ref api.PackageRef
	err := json.Unmarshal([]byte(j.Package), &ref)
	return ref, err
}

func (j *Job) SetOutcome(o api.Outcome) {
	j.Outcome = spanner.NullString{StringVal: string(o), Valid: true}
}

func (j *Job) HasOutcome() bool { return j.Outcome.Valid }

// Agent is a registered worker, spec.md §3.
type Agent struct {
	Name             string             `spanner:"Name"`
	TokenHash        string             `spanner:"TokenHash"`
	Capabilities     []string           `spanner:"Capabilities"`
	LastHeartbeat    time.Time          `spanner:"LastHeartbeat"`
	CurrentAssignment spanner.NullString `spanner:"CurrentAssignment"`
}

func (a *Agent) SetAssignment(name string) {
	a.CurrentAssignment = spanner.NullString{StringVal: name, Valid: name != ""}
}

// HasCapabilities reports whether required is a subset of a's capability set.
func (a *Agent) HasCapabilities(required []string) bool {
	set := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		set[c] = true
	}
	for _, r := range required {
		if !set[r] {
			return false
		}
	}
	return true
}
