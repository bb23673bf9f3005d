package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yabot-dev/yabot/pkg/types"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	Conversations int    `json:"conversations"`
}

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Clients:       s.ClientCount(),
		Conversations: len(s.registry.ListConversations("")),
	})
}

// ModelsResponse is the body of GET /models.
type ModelsResponse struct {
	Default string            `json:"default"`
	Models  []types.ModelInfo `json:"models"`
}

// listModels handles GET /models.
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{
		Default: s.registry.DefaultModel(),
		Models:  s.registry.ListModels(),
	})
}

// listConversations handles GET /conversations?room_id=.
func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListConversations(r.URL.Query().Get("room_id")))
}

// getConversation handles GET /conversations/{convID}.
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Detail(chi.URLParam(r, "convID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
