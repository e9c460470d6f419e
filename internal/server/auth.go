package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/rust-lang/crater/internal/api"
	"github.com/rust-lang/crater/internal/store"
)

type agentContextKey struct{}

// HashToken is the one-way transform applied before a token ever touches
// the store, so a database dump doesn't hand out live credentials --
// spec.md §3's "token (hashed for storage)".
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func parseToken(header string) (string, bool) {
	const prefix = "CraterToken "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// withAgentAuth resolves the bearer token against the agent repository,
// bumps the agent's heartbeat (any request counts, per spec.md §5), and
// stores the agent record in the request context for the handler.
// Unauthenticated or unknown tokens get an unauthorized envelope.
func withAgentAuth(agents *store.AgentRepository, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := parseToken(r.Header.Get("Authorization"))
		if !ok {
			api.ReplyError(w, api.EnvelopeUnauthorized, errMissingToken)
			return
		}
		ag, err := agents.ByTokenHash(r.Context(), HashToken(token))
		if err == store.ErrUnknownToken {
			api.ReplyError(w, api.EnvelopeUnauthorized, err)
			return
		}
		if err != nil {
			api.ReplyError(w, api.EnvelopeInternalError, err)
			return
		}
		if err := agents.Heartbeat(r.Context(), ag.Name); err != nil {
			api.ReplyError(w, api.EnvelopeInternalError, err)
			return
		}
		ctx := context.WithValue(r.Context(), agentContextKey{}, ag)
		next(w, r.WithContext(ctx))
	}
}

func agentFromContext(ctx context.Context) *store.Agent {
	ag, _ := ctx.Value(agentContextKey{}).(*store.Agent)
	return ag
}

var errMissingToken = errAuth("missing or malformed Authorization header")

type errAuth string

func (e errAuth) Error() string { return string(e) }
