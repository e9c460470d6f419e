package server

import (
	"net/http"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/crater"
	"github.com/rust-lang/crater/internal/policy"
	"github.com/rust-lang/crater/internal/registry"
)

// OperatorAPI implements the create/edit/abort/retry-report/reload-acl
// surface consumed by the bot collaborator, spec.md §6. Authorization is
// by GitHub login against the ACL, a separately resolved identity from
// the agent bearer tokens -- spec.md §4.6.
type OperatorAPI struct {
	registry *registry.Registry
	acl      *policy.ACLStore
	teamMember func(login string) bool
}

func NewOperatorAPI(reg *registry.Registry, acl *policy.ACLStore, teamMember func(string) bool) *OperatorAPI {
	return &OperatorAPI{registry: reg, acl: acl, teamMember: teamMember}
}

func (o *OperatorAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /operator-api/create", o.withACL(o.create))
	mux.HandleFunc("POST /operator-api/edit", o.withACL(o.edit))
	mux.HandleFunc("POST /operator-api/abort", o.withACL(o.abort))
	mux.HandleFunc("POST /operator-api/retry-report", o.withACL(o.retryReport))
	mux.HandleFunc("POST /operator-api/reload-acl", o.withACL(o.reloadACL))
}

// withACL authorizes the caller's GitHub login (carried in a header set by
// the bot collaborator's own auth, out of scope here) before running next.
func (o *OperatorAPI) withACL(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		login := r.Header.Get("X-Crater-GitHub-Login")
		acl := o.acl.Current()
		if !acl.Allows(login, o.teamMember) {
			api.ReplyError(w, api.EnvelopeUnauthorized, crater.AuthError("caller is not on the bot ACL", nil))
			return
		}
		next(w, r)
	}
}

func (o *OperatorAPI) create(w http.ResponseWriter, r *http.Request) {
	req := api.ParseJSON[api.CreateExperimentRequest](w, r)
	if req == nil {
		return
	}
	req.RequesterLogin = r.Header.Get("X-Crater-GitHub-Login")
	exp, err := o.registry.Create(r.Context(), *req)
	if err != nil {
		replyTyped(w, err)
		return
	}
	api.ReplyJSON(w, exp)
}

func (o *OperatorAPI) edit(w http.ResponseWriter, r *http.Request) {
	req := api.ParseJSON[api.EditExperimentRequest](w, r)
	if req == nil {
		return
	}
	if err := o.registry.Edit(r.Context(), *req); err != nil {
		replyTyped(w, err)
		return
	}
	api.ReplyJSON(w, true)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (o *OperatorAPI) abort(w http.ResponseWriter, r *http.Request) {
	req := api.ParseJSON[nameRequest](w, r)
	if req == nil {
		return
	}
	if err := o.registry.Abort(r.Context(), req.Name); err != nil {
		replyTyped(w, err)
		return
	}
	api.ReplyJSON(w, true)
}

// retryReport re-drives report generation for an experiment stuck in
// report-failed, spec.md §3's "generating-report/completed (or
// report-failed), driven by the report collaborator".
func (o *OperatorAPI) retryReport(w http.ResponseWriter, r *http.Request) {
	req := api.ParseJSON[nameRequest](w, r)
	if req == nil {
		return
	}
	if err := o.registry.RetryReport(r.Context(), req.Name); err != nil {
		replyTyped(w, err)
		return
	}
	api.ReplyJSON(w, true)
}

func (o *OperatorAPI) reloadACL(w http.ResponseWriter, r *http.Request) {
	if err := o.acl.Reload(); err != nil {
		replyTyped(w, crater.ConfigError("reloading ACL", err))
		return
	}
	api.ReplyJSON(w, true)
}
