package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	// Chat front-ends
	r.Get("/ws", s.serveWS)

	// Observers
	r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Get("/models", s.listModels)
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.listConversations)
			r.Get("/{convID}", s.getConversation)
		})
		r.Get("/events", s.events)
	})
}
