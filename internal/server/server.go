// Package server assembles the HTTP surface of spec.md §4.6: token-
// authenticated agent endpoints, operator/bot endpoints, and a Prometheus
// metrics endpoint. Grounded on controller/api.go's Mux()-returning
// handler group, generalized to Go 1.22 method+pattern routing.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/crater"
)

type Server struct {
	agentAPI    *AgentAPI
	operatorAPI *OperatorAPI
}

func New(agentAPI *AgentAPI, operatorAPI *OperatorAPI) *Server {
	return &Server{agentAPI: agentAPI, operatorAPI: operatorAPI}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	s.agentAPI.Register(mux)
	s.operatorAPI.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// replyTyped maps a crater.Error's taxonomy code onto the right envelope
// status, per spec.md §7 ("the server converts StateConflict into
// envelope internal-error..."); errors outside the taxonomy default to
// internal-error.
func replyTyped(w http.ResponseWriter, err error) {
	switch crater.CodeOf(err) {
	case crater.CodeAuth:
		api.ReplyError(w, api.EnvelopeUnauthorized, err)
	case crater.CodeNotFound:
		api.ReplyError(w, api.EnvelopeNotFound, err)
	default:
		api.ReplyError(w, api.EnvelopeInternalError, err)
	}
}
