package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/browse"
	"github.com/ternarybob/kissaten/internal/common"
)

// APIHandler serves the system routes: version, health, tasting-note
// categories, and the /v1 404 fallback.
type APIHandler struct {
	browseService *browse.Service
	logger        arbor.ILogger
}

func NewAPIHandler(browseService *browse.Service, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		browseService: browseService,
		logger:        logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// TastingNoteCategoriesHandler handles GET /v1/tasting-note-categories.
func (h *APIHandler) TastingNoteCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	categories, err := h.browseService.TastingNoteCategories(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("tasting note categories failed")
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"total":      len(categories),
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
