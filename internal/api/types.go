// Package api holds the wire types exchanged between crater-agent and
// crater-server, plus the operator payloads consumed by the bot
// collaborator. Types are flat structs with json tags, mirroring the
// teacher's DTO style: no interfaces, no embedding tricks.
package api

import "time"

// Mode is the experiment mode, spec.md §3.
type Mode string

const (
	ModeBuildAndTest Mode = "build-and-test"
	ModeBuildOnly    Mode = "build-only"
	ModeCheckOnly    Mode = "check-only"
	ModeClippy       Mode = "clippy"
	ModeDoc          Mode = "doc"
)

// LintCap bounds how strict clippy/rustc lints are treated.
type LintCap string

const (
	LintForbid LintCap = "forbid"
	LintDeny   LintCap = "deny"
	LintWarn   LintCap = "warn"
	LintAllow  LintCap = "allow"
)

// CrateSelectionKind tags which selection strategy Crates describes.
type CrateSelectionKind string

const (
	SelectFull     CrateSelectionKind = "full"
	SelectTopN     CrateSelectionKind = "top-n"
	SelectRandomN  CrateSelectionKind = "random-n"
	SelectExplicit CrateSelectionKind = "explicit"
	SelectDemo     CrateSelectionKind = "demo"
)

// CrateSelection picks the package set an experiment runs over.
type CrateSelection struct {
	Kind     CrateSelectionKind `json:"kind"`
	N        int                `json:"n,omitempty"`    // for top-n / random-n
	Explicit []PackageRef       `json:"explicit,omitempty"`
}

// PackageRef is the tagged-variant package reference from spec.md §3.
type PackageRef struct {
	Registry string `json:"registry,omitempty"`
	Version  string `json:"version,omitempty"`
	Git      string `json:"git,omitempty"`
	SHA      string `json:"sha,omitempty"`
}

func (p PackageRef) IsGit() bool { return p.Git != "" }

// Equal compares two package references structurally, per spec.md §3.
func (p PackageRef) Equal(o PackageRef) bool {
	return p.Registry == o.Registry && p.Version == o.Version && p.Git == o.Git && p.SHA == o.SHA
}

// SourcePatch is the `+patch=name=url=branch` toolchain suffix from spec.md §6.
type SourcePatch struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// Toolchain is the tagged-variant toolchain reference from spec.md §3.
type Toolchain struct {
	Dist string `json:"dist,omitempty"`

	CI  string `json:"ci,omitempty"`
	Try bool   `json:"try,omitempty"`

	Rustflags string        `json:"rustflags,omitempty"`
	Patches   []SourcePatch `json:"patches,omitempty"`
}

func (t Toolchain) String() string {
	if t.Dist != "" {
		return t.Dist
	}
	if t.Try {
		return t.CI + "#try"
	}
	return t.CI
}

// Equal compares two toolchain references structurally. Rustflags and
// patches are part of identity: a toolchain with different build flags is
// a different toolchain for dispatch purposes.
func (t Toolchain) Equal(o Toolchain) bool {
	if t.Dist != o.Dist || t.CI != o.CI || t.Try != o.Try || t.Rustflags != o.Rustflags {
		return false
	}
	if len(t.Patches) != len(o.Patches) {
		return false
	}
	for i := range t.Patches {
		if t.Patches[i] != o.Patches[i] {
			return false
		}
	}
	return true
}

// Outcome is a job's terminal classification, spec.md §3.
type Outcome string

const (
	OutcomeBuildFail        Outcome = "build-fail"
	OutcomeTestFail         Outcome = "test-fail"
	OutcomeTestPass         Outcome = "test-pass"
	OutcomeTestSkipped      Outcome = "test-skipped"
	OutcomeBuildBroken      Outcome = "build-broken"
	OutcomeError            Outcome = "error"
	OutcomeTimeoutOverall   Outcome = "timeout-overall"
	OutcomeTimeoutNoOutput  Outcome = "timeout-no-output"
	OutcomeSpuriousExhausted Outcome = "spurious-retry-exhausted"
)

// Verdict is the comparator's classification of a pair of outcomes, spec.md §4.7.
type Verdict string

const (
	VerdictRegressed    Verdict = "regressed"
	VerdictFixed        Verdict = "fixed"
	VerdictSameBuildFail Verdict = "same-build-fail"
	VerdictSameTestFail Verdict = "same-test-fail"
	VerdictSameTestPass Verdict = "same-test-pass"
	VerdictUnknown      Verdict = "unknown"
	VerdictSkipped      Verdict = "skipped"
	VerdictSpuriousExhausted Verdict = "spurious-retry-exhausted"
)

// Status is an experiment's lifecycle state, spec.md §3.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusNeedsReport      Status = "needs-report"
	StatusGeneratingReport Status = "generating-report"
	StatusReportFailed     Status = "report-failed"
	StatusCompleted        Status = "completed"
	StatusAborted          Status = "aborted"
)

// Experiment is the full descriptor of a named comparison run.
type Experiment struct {
	Name              string         `json:"name"`
	ToolchainA        Toolchain      `json:"toolchain_a"`
	ToolchainB        Toolchain      `json:"toolchain_b"`
	Mode              Mode           `json:"mode"`
	Crates            CrateSelection `json:"crates"`
	CapLints          LintCap        `json:"cap_lints"`
	IgnoreBlacklist   bool           `json:"ignore_blacklist"`
	Requirement       []string       `json:"requirement"`
	Priority          int64          `json:"priority"`
	AssignedAgent     string         `json:"assigned_agent,omitempty"`
	Assign            string         `json:"assign,omitempty"` // restrict pickup to this agent
	RequesterLogin    string         `json:"requester_login"`
	GitHubThreadURL   string         `json:"github_thread_url,omitempty"`
	Status            Status         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// ExperimentDescriptor is what /next-experiment hands to an agent: enough to
// run the experiment's jobs, but not the full administrative record.
type ExperimentDescriptor struct {
	Name        string         `json:"name"`
	Crates      []PackageRef   `json:"crates"`
	Toolchains  [2]Toolchain   `json:"toolchains"`
	Mode        Mode           `json:"mode"`
	CapLints    LintCap        `json:"cap_lints"`
	Requirement []string       `json:"requirement"`
}

// JobResult is a single (crate, toolchain) outcome reported by an agent.
type JobResult struct {
	Crate     PackageRef `json:"crate"`
	Toolchain Toolchain  `json:"toolchain"`
	Result    Outcome    `json:"result"`
	Log       []byte     `json:"log"` // base64 over the wire via encoding/json
}

// RecordProgressRequest is the body of POST /record-progress.
type RecordProgressRequest struct {
	ExperimentName string      `json:"experiment-name"`
	Results        []JobResult `json:"results"`
	SHAs           [][2]string `json:"shas,omitempty"` // [repo, sha] pairs resolved during preparation
}

// ErrorRequest is the body of POST /error.
type ErrorRequest struct {
	ExperimentName string `json:"experiment-name"`
	Error          string `json:"error"`
}

// ConfigResponse is the body of GET /config.
type ConfigResponse struct {
	AgentName     string `json:"agent-name"`
	CraterConfig  []byte `json:"crater-config"` // opaque, agent-cached policy blob
}

// Envelope is the uniform reply shape for every /agent-api/ endpoint.
type Envelope[T any] struct {
	Status EnvelopeStatus `json:"status"`
	Result T              `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type EnvelopeStatus string

const (
	EnvelopeSuccess      EnvelopeStatus = "success"
	EnvelopeUnauthorized EnvelopeStatus = "unauthorized"
	EnvelopeNotFound     EnvelopeStatus = "not-found"
	EnvelopeInternalError EnvelopeStatus = "internal-error"
)

// CreateExperimentRequest is the operator API's create payload.
type CreateExperimentRequest struct {
	Name            string         `json:"name"`
	ToolchainA      Toolchain      `json:"toolchain_a"`
	ToolchainB      Toolchain      `json:"toolchain_b"`
	Mode            Mode           `json:"mode"`
	Crates          CrateSelection `json:"crates"`
	CapLints        LintCap        `json:"cap_lints"`
	IgnoreBlacklist bool           `json:"ignore_blacklist"`
	Requirement     []string       `json:"requirement"`
	Priority        int64          `json:"priority"`
	Assign          string         `json:"assign,omitempty"`
	RequesterLogin  string         `json:"requester_login"`
	GitHubThreadURL string         `json:"github_thread_url,omitempty"`
}

// EditExperimentRequest mutates a still-queued experiment, or priority/assign
// on any pre-completion experiment, per spec.md §3 invariant 3.
type EditExperimentRequest struct {
	Name            string          `json:"name"`
	ToolchainA      *Toolchain      `json:"toolchain_a,omitempty"`
	ToolchainB      *Toolchain      `json:"toolchain_b,omitempty"`
	Mode            *Mode           `json:"mode,omitempty"`
	Crates          *CrateSelection `json:"crates,omitempty"`
	Priority        *int64          `json:"priority,omitempty"`
	Assign          *string         `json:"assign,omitempty"`
}
