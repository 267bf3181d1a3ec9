package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/browse"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/search"
)

// VarietalsHandler answers the /v1/varietals routes with canonical-name
// routing: slugs are case-insensitive and resolve to canonical varietal
// names, so /varietals/mundo-novo and a search for variety="Mundo Novo"
// agree on the same bean set.
type VarietalsHandler struct {
	browseService *browse.Service
	searchService *search.Service
	logger        arbor.ILogger
}

func NewVarietalsHandler(browseService *browse.Service, searchService *search.Service, logger arbor.ILogger) *VarietalsHandler {
	return &VarietalsHandler{
		browseService: browseService,
		searchService: searchService,
		logger:        logger,
	}
}

// VarietalRoutesHandler dispatches /v1/varietals/... by path shape:
//
//	GET /v1/varietals                 -> listing
//	GET /v1/varietals/{slug}          -> detail
//	GET /v1/varietals/{slug}/beans    -> beans carrying the varietal
func (h *VarietalsHandler) VarietalRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/varietals"), "/")
	if rest == "" {
		h.list(w, r)
		return
	}

	segments := strings.Split(rest, "/")
	slug := strings.ToLower(segments[0])
	switch {
	case len(segments) == 1:
		h.detail(w, r, slug)
	case len(segments) == 2 && segments[1] == "beans":
		h.beans(w, r, slug)
	default:
		WriteError(w, http.StatusNotFound, "unrecognized varietals path")
	}
}

func (h *VarietalsHandler) list(w http.ResponseWriter, r *http.Request) {
	varietals, err := h.browseService.Varietals(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("varietal listing failed")
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"varietals": varietals,
		"total":     len(varietals),
	})
}

func (h *VarietalsHandler) detail(w http.ResponseWriter, r *http.Request, slug string) {
	detail, err := h.browseService.VarietalDetail(r.Context(), slug)
	if err != nil {
		h.logger.Warn().Err(err).Str("slug", slug).Msg("varietal detail failed")
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

// beans resolves the slug to its canonical name, then runs a standard
// search with the variety pinned to that exact name (quoted phrase, so
// wildcards in the name are inert). The rest of the search surface —
// pagination, sort, currency conversion — rides on the query string.
func (h *VarietalsHandler) beans(w http.ResponseWriter, r *http.Request, slug string) {
	detail, err := h.browseService.VarietalDetail(r.Context(), slug)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	req, err := ParseSearchRequest(r.URL.Query())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	req.Variety = `"` + detail.Name + `"`
	if req.SortBy == "" {
		req.SortBy = models.SortName
	}

	result, err := h.searchService.Search(r.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).Str("slug", slug).Msg("varietal beans search failed")
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
