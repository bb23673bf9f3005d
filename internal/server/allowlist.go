package server

import (
	"net/http"
	"strings"

	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// IdentityHeader names the sender identity on REST and SSE requests.
const IdentityHeader = "X-Yabot-Identity"

// Allowlist holds the identities permitted to issue commands. An empty list
// permits everyone.
type Allowlist struct {
	users map[string]bool
}

// NewAllowlist creates an allowlist from configured identities.
func NewAllowlist(users []string) *Allowlist {
	a := &Allowlist{users: make(map[string]bool)}
	for _, u := range users {
		if u = strings.TrimSpace(u); u != "" {
			a.users[u] = true
		}
	}
	return a
}

// Restricted reports whether any identity is configured.
func (a *Allowlist) Restricted() bool {
	return len(a.users) > 0
}

// Allowed reports whether identity may issue commands.
func (a *Allowlist) Allowed(identity string) bool {
	if !a.Restricted() {
		return true
	}
	return a.users[identity]
}

// refuse logs and traces a dropped command.
func (s *Server) refuse(identity, what, roomID, convID string) {
	s.log.Warn().
		Str("sender", identity).
		Str("command", what).
		Str("room_id", roomID).
		Str("conv_id", convID).
		Msg("dropped command from identity not on the allowlist")
	if err := s.tracer.Record(trace.EventNotAllowed, trace.Context{RoomID: roomID, ConvID: convID}, map[string]any{
		"sender":  identity,
		"command": what,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to write trace record")
	}
}

// requireIdentity guards REST and SSE routes. Browsers cannot set headers on
// EventSource, so the identity may also come from the "identity" query
// parameter.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := r.Header.Get(IdentityHeader)
		if identity == "" {
			identity = r.URL.Query().Get("identity")
		}
		if !s.allow.Allowed(identity) {
			s.refuse(identity, r.Method+" "+r.URL.Path, "", "")
			writeError(w, http.StatusForbidden, types.CodeNotAllowed, "identity is not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}
