package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/browse"
)

// OriginsHandler answers the /v1/origins browse routes: country, region,
// and farm detail plus the origin typeahead search.
type OriginsHandler struct {
	browseService *browse.Service
	logger        arbor.ILogger
}

func NewOriginsHandler(browseService *browse.Service, logger arbor.ILogger) *OriginsHandler {
	return &OriginsHandler{
		browseService: browseService,
		logger:        logger,
	}
}

// OriginRoutesHandler dispatches /v1/origins/... by path shape:
//
//	GET /v1/origins/search                      -> typeahead
//	GET /v1/origins/{country}                   -> country detail
//	GET /v1/origins/{country}/{region}          -> region detail
//	GET /v1/origins/{country}/{region}/{farm}   -> farm detail
func (h *OriginsHandler) OriginRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/origins"), "/")
	if rest == "" {
		WriteError(w, http.StatusNotFound, "missing country code")
		return
	}

	segments := strings.Split(rest, "/")
	if segments[0] == "search" {
		h.searchOrigins(w, r)
		return
	}

	switch len(segments) {
	case 1:
		h.countryDetail(w, r, segments[0])
	case 2:
		h.regionDetail(w, r, segments[0], segments[1])
	case 3:
		h.farmDetail(w, r, segments[0], segments[1], segments[2])
	default:
		WriteError(w, http.StatusNotFound, "unrecognized origins path")
	}
}

func (h *OriginsHandler) countryDetail(w http.ResponseWriter, r *http.Request, country string) {
	detail, err := h.browseService.CountryDetail(r.Context(), strings.ToUpper(country))
	if err != nil {
		h.logger.Warn().Err(err).Str("country", country).Msg("country detail failed")
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

func (h *OriginsHandler) regionDetail(w http.ResponseWriter, r *http.Request, country, regionSlug string) {
	detail, err := h.browseService.RegionDetail(r.Context(), strings.ToUpper(country), regionSlug)
	if err != nil {
		h.logger.Warn().Err(err).Str("country", country).Str("region", regionSlug).Msg("region detail failed")
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

func (h *OriginsHandler) farmDetail(w http.ResponseWriter, r *http.Request, country, regionSlug, farmSlug string) {
	detail, err := h.browseService.FarmDetail(r.Context(), strings.ToUpper(country), regionSlug, farmSlug)
	if err != nil {
		h.logger.Warn().Err(err).Str("country", country).Str("region", regionSlug).Str("farm", farmSlug).Msg("farm detail failed")
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

// searchOrigins handles GET /v1/origins/search?q=...&limit=... typeahead
// across countries, regions, and farms.
func (h *OriginsHandler) searchOrigins(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		WriteError(w, http.StatusUnprocessableEntity, "parameter \"q\" is required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	results, err := h.browseService.OriginSearch(r.Context(), q, limit)
	if err != nil {
		h.logger.Warn().Err(err).Str("q", q).Msg("origin search failed")
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query":   q,
		"results": results,
	})
}
