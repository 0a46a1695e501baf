package web

import "github.com/go-chi/chi/v5"

func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/api/v1/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Duplicate groups and their merge decisions
		r.Get("/duplicates", s.handleListDuplicates)
		r.Get("/duplicates/{groupId}", s.handleGetDecision)
		r.Post("/duplicates/{groupId}/keeper", s.handleSetKeeper)
		r.Put("/duplicates/{groupId}/fields", s.handleOverrideFields)
		r.Post("/duplicates/{groupId}/apply", s.handleApply)

		// Indexing job control (long-running)
		r.Post("/index", s.handleStartIndex)
		r.Get("/index/{jobId}", s.handleIndexStatus)
		r.Delete("/index/{jobId}", s.handleCancelIndex)
	})
}
