package server

import "net/http"

// setupRoutes configures all HTTP routes under the versioned /v1 surface.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Search
	mux.HandleFunc("/v1/search", s.handlers.Search.SearchHandler)
	mux.HandleFunc("/v1/search/by-paths", s.handlers.Search.ByPathsHandler)

	// Varietals - /v1/varietals, /v1/varietals/{slug}, /v1/varietals/{slug}/beans
	mux.HandleFunc("/v1/varietals", s.handlers.Varietals.VarietalRoutesHandler)
	mux.HandleFunc("/v1/varietals/", s.handlers.Varietals.VarietalRoutesHandler)

	// Origins - /v1/origins/search, /v1/origins/{country}[/{region}[/{farm}]]
	mux.HandleFunc("/v1/origins/", s.handlers.Origins.OriginRoutesHandler)

	// Tasting notes
	mux.HandleFunc("/v1/tasting-note-categories", s.handlers.API.TastingNoteCategoriesHandler)

	// Currency
	mux.HandleFunc("/v1/currencies", s.handlers.Currency.ListHandler)
	mux.HandleFunc("/v1/convert", s.handlers.Currency.ConvertHandler)
	mux.HandleFunc("/v1/currencies/update", s.handlers.Currency.UpdateHandler)
	mux.HandleFunc("/v1/currencies/refresh", s.handlers.Currency.RefreshHandler)

	// AI natural-language search
	mux.HandleFunc("/v1/ai/search", s.handlers.AI.SearchHandler)
	mux.HandleFunc("/v1/ai/search/redirect", s.handlers.AI.RedirectHandler)

	// Admin - background jobs and farm-cluster manual review
	mux.HandleFunc("/v1/admin/reingest", s.handlers.Admin.ReingestHandler)
	mux.HandleFunc("/v1/admin/recluster", s.handlers.Admin.ReclusterHandler)
	mux.HandleFunc("/v1/admin/recluster/review", s.handlers.Admin.ReviewHandler)

	// System
	mux.HandleFunc("/v1/version", s.handlers.API.VersionHandler)
	mux.HandleFunc("/v1/health", s.handlers.API.HealthHandler)

	// 404 handler for unmatched /v1 routes
	mux.HandleFunc("/v1/", s.handlers.API.NotFoundHandler)
	mux.HandleFunc("/", s.handlers.API.NotFoundHandler)

	return mux
}
