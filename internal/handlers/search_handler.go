package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/search"
)

// SearchHandler answers GET /v1/search and POST /v1/search/by-paths.
type SearchHandler struct {
	searchService *search.Service
	logger        arbor.ILogger
}

func NewSearchHandler(searchService *search.Service, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		logger:        logger,
	}
}

// SearchHandler handles GET /v1/search requests.
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	req, err := ParseSearchRequest(r.URL.Query())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	result, err := h.searchService.Search(r.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("search failed")
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// byPathsRequest is the body of POST /v1/search/by-paths. Filters beyond
// the path list ride in the same body, mirroring the GET parameter names.
type byPathsRequest struct {
	BeanURLPaths []string `json:"bean_url_paths"`
	models.SearchRequest
}

// ByPathsHandler handles POST /v1/search/by-paths requests: resolve a
// frontend's list of bean URL paths (1..100) back to bean rows, with the
// same filter and currency-conversion surface as GET /v1/search.
func (h *SearchHandler) ByPathsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body byPathsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if len(body.BeanURLPaths) == 0 || len(body.BeanURLPaths) > 100 {
		WriteError(w, http.StatusUnprocessableEntity, "bean_url_paths must contain between 1 and 100 entries")
		return
	}

	req := body.SearchRequest
	req.BeanURLPaths = body.BeanURLPaths
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PerPage == 0 {
		req.PerPage = 100
	}

	result, err := h.searchService.Search(r.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).Int("paths", len(body.BeanURLPaths)).Msg("by-paths search failed")
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// ParseSearchRequest maps the recognized GET /v1/search query parameters
// onto a SearchRequest. Unknown parameters are ignored; malformed values
// for recognized parameters are a validation error, not a silent default.
func ParseSearchRequest(q url.Values) (models.SearchRequest, error) {
	req := models.SearchRequest{
		Query:             q.Get("query"),
		TastingNotesQuery: q.Get("tasting_notes_query"),
		Roaster:           splitMulti(q["roaster"]),
		RoasterLocation:   splitMulti(q["roaster_location"]),
		Origin:            splitMulti(q["origin"]),
		Variety:           q.Get("variety"),
		Process:           q.Get("process"),
		RoastLevel:        q.Get("roast_level"),
		RoastProfile:      q.Get("roast_profile"),
		Region:            q.Get("region"),
		Producer:          q.Get("producer"),
		Farm:              q.Get("farm"),
		SortBy:            models.SortField(q.Get("sort_by")),
		SortOrder:         models.SortOrder(q.Get("sort_order")),
		ConvertToCurrency: strings.ToUpper(q.Get("convert_to_currency")),
		Page:              1,
		PerPage:           20,
	}

	var err error
	if req.MinPrice, err = parseFloatParam(q, "min_price"); err != nil {
		return req, err
	}
	if req.MaxPrice, err = parseFloatParam(q, "max_price"); err != nil {
		return req, err
	}
	if req.MinWeight, err = parseIntParam(q, "min_weight"); err != nil {
		return req, err
	}
	if req.MaxWeight, err = parseIntParam(q, "max_weight"); err != nil {
		return req, err
	}
	if req.MinElevation, err = parseIntParam(q, "min_elevation"); err != nil {
		return req, err
	}
	if req.MaxElevation, err = parseIntParam(q, "max_elevation"); err != nil {
		return req, err
	}

	if v, err := parseBoolParam(q, "in_stock_only"); err != nil {
		return req, err
	} else if v != nil {
		req.InStockOnly = *v
	}
	if v, err := parseBoolParam(q, "tasting_notes_only"); err != nil {
		return req, err
	} else if v != nil {
		req.TastingNotesOnly = *v
	}
	if req.IsDecaf, err = parseBoolParam(q, "is_decaf"); err != nil {
		return req, err
	}
	if req.IsSingleOrigin, err = parseBoolParam(q, "is_single_origin"); err != nil {
		return req, err
	}

	if p, err := parseIntParam(q, "page"); err != nil {
		return req, err
	} else if p != nil {
		req.Page = *p
	}
	if pp, err := parseIntParam(q, "per_page"); err != nil {
		return req, err
	} else if pp != nil {
		req.PerPage = *pp
	}

	return req, nil
}

// splitMulti accepts both repeated parameters (?origin=CO&origin=ET) and
// comma-joined values (?origin=CO,ET), the two encodings frontends emit
// for multi-select filters.
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
