package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/app"
	"github.com/rust-lang/crater/internal/crater"
	"github.com/rust-lang/crater/internal/registry"
	"github.com/rust-lang/crater/internal/store"
)

// AgentAPI implements the /agent-api/ surface of spec.md §4.6/§6.
type AgentAPI struct {
	registry    *registry.Registry
	agents      *store.AgentRepository
	jobs        *store.JobRepository
	craterConfig []byte // opaque policy blob handed to agents verbatim
}

func NewAgentAPI(reg *registry.Registry, agents *store.AgentRepository, jobs *store.JobRepository,
	craterConfig []byte) *AgentAPI {
	return &AgentAPI{registry: reg, agents: agents, jobs: jobs, craterConfig: craterConfig}
}

func (a *AgentAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /agent-api/config", withAgentAuth(a.agents, a.getConfig))
	mux.HandleFunc("GET /agent-api/next-experiment", withAgentAuth(a.agents, a.nextExperiment))
	mux.HandleFunc("POST /agent-api/record-progress", withAgentAuth(a.agents, a.recordProgress))
	mux.HandleFunc("POST /agent-api/heartbeat", withAgentAuth(a.agents, a.heartbeat))
	mux.HandleFunc("POST /agent-api/error", withAgentAuth(a.agents, a.reportError))
}

func (a *AgentAPI) getConfig(w http.ResponseWriter, r *http.Request) {
	ag := agentFromContext(r.Context())
	api.ReplyJSON(w, api.ConfigResponse{AgentName: ag.Name, CraterConfig: a.craterConfig})
}

func (a *AgentAPI) nextExperiment(w http.ResponseWriter, r *http.Request) {
	ag := agentFromContext(r.Context())
	desc, err := a.registry.Assign(r.Context(), ag.Name, ag.Capabilities)
	if err != nil {
		replyTyped(w, err)
		return
	}
	if desc != nil {
		if err := a.agents.SetAssignment(r.Context(), ag.Name, desc.Name); err != nil {
			replyTyped(w, crater.TransientError("recording assignment", err))
			return
		}
		experimentsAssigned.WithLabelValues(ag.Name).Inc()
	}
	api.ReplyJSON(w, desc) // nil serializes as JSON null, per spec.md §6
}

func (a *AgentAPI) recordProgress(w http.ResponseWriter, r *http.Request) {
	req := api.ParseJSON[api.RecordProgressRequest](w, r)
	if req == nil {
		return
	}
	exp, err := a.registry.Get(r.Context(), req.ExperimentName)
	if err != nil {
		replyTyped(w, err)
		return
	}
	if exp.Status != api.StatusRunning {
		// the experiment was aborted (or otherwise moved on) out from under
		// the agent; tell it to drop the work rather than record outcomes
		// into a row nobody's waiting on, per spec.md §5/§8 scenario S5.
		replyTyped(w, crater.NotFoundError(
			fmt.Sprintf("experiment %s is not running", exp.Name), nil))
		return
	}
	for _, result := range req.Results {
		idx, ok := toolchainIndex(exp, result.Toolchain)
		if !ok {
			replyTyped(w, crater.NotFoundError(
				fmt.Sprintf("toolchain %s is not part of experiment %s", result.Toolchain, exp.Name), nil))
			return
		}
		err := a.jobs.RecordOutcome(r.Context(), req.ExperimentName, result.Crate, idx, result.Result, "", false)
		if err == store.ErrConflictingOutcome {
			replyTyped(w, crater.StateConflictError("conflicting outcome for job", err))
			return
		}
		if err != nil {
			replyTyped(w, crater.TransientError("recording outcome", err))
			return
		}
		jobsRecorded.WithLabelValues(string(result.Result)).Inc()
	}
	if err := a.registry.CheckComplete(r.Context(), req.ExperimentName); err != nil {
		// completion transitions are best-effort here: the progress record
		// itself succeeded, and the next record-progress call for this
		// experiment runs the check again.
		_ = err
	}
	api.ReplyJSON(w, true)
}

func toolchainIndex(exp *api.Experiment, tc api.Toolchain) (int, bool) {
	switch {
	case exp.ToolchainA.Equal(tc):
		return 0, true
	case exp.ToolchainB.Equal(tc):
		return 1, true
	default:
		return 0, false
	}
}

func (a *AgentAPI) heartbeat(w http.ResponseWriter, r *http.Request) {
	// withAgentAuth has already bumped LastHeartbeat on every authenticated
	// request; this endpoint exists so agents have an explicit, cheap call
	// to make when otherwise idle, per spec.md §4.5/§6.
	api.ReplyJSON(w, true)
}

func (a *AgentAPI) reportError(w http.ResponseWriter, r *http.Request) {
	req := api.ParseJSON[api.ErrorRequest](w, r)
	if req == nil {
		return
	}
	logAgentError(r.Context(), req)
	agentErrors.WithLabelValues(agentFromContext(r.Context()).Name).Inc()
	api.ReplyJSON(w, true)
}

// logAgentError is a narrow seam so tests can assert an error was surfaced
// without scraping stdout; production wiring just logs it.
var logAgentError = func(ctx context.Context, req *api.ErrorRequest) {
	app.Errorf("agent reported error on experiment %s: %s", req.ExperimentName, req.Error)
}
