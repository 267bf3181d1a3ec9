package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/aicache"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/ratelimit"
)

// Translator turns a natural-language query into a structured filter set.
// The concrete provider (and its API key) is opaque to the core; a nil
// Translator means only cached translations are served.
type Translator interface {
	Translate(ctx context.Context, query string) (*models.SearchParameters, error)
}

// AIHandler answers POST /v1/ai/search and /v1/ai/search/redirect,
// consulting the translation cache before the provider and writing every
// fresh translation back with the configured TTL.
type AIHandler struct {
	cache      *aicache.Store
	translator Translator
	limiter    *ratelimit.Limiter
	ttl        time.Duration
	logger     arbor.ILogger
}

func NewAIHandler(cache *aicache.Store, translator Translator, limiter *ratelimit.Limiter, ttl time.Duration, logger arbor.ILogger) *AIHandler {
	return &AIHandler{
		cache:      cache,
		translator: translator,
		limiter:    limiter,
		ttl:        ttl,
		logger:     logger,
	}
}

type aiSearchRequest struct {
	Query string `json:"query"`
}

type aiSearchResponse struct {
	Query            string                   `json:"query"`
	SearchParameters *models.SearchParameters `json:"search_parameters"`
	SearchURL        string                   `json:"search_url"`
	Cached           bool                     `json:"cached"`
}

// SearchHandler handles POST /v1/ai/search.
func (h *AIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query, params, cached, ok := h.translate(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, aiSearchResponse{
		Query:            query,
		SearchParameters: params,
		SearchURL:        SearchURL(*params),
		Cached:           cached,
	})
}

// RedirectHandler handles POST /v1/ai/search/redirect: same translation
// path, but the response is just the canonical /search URL to navigate to.
func (h *AIHandler) RedirectHandler(w http.ResponseWriter, r *http.Request) {
	_, params, cached, ok := h.translate(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"redirect_url": SearchURL(*params),
		"cached":       cached,
	})
}

// translate runs the shared rate-limit -> cache -> provider -> cache-put
// sequence. It writes the error response itself and reports ok=false when
// the caller should stop.
func (h *AIHandler) translate(w http.ResponseWriter, r *http.Request) (query string, params *models.SearchParameters, cached bool, ok bool) {
	if !RequireMethod(w, r, http.MethodPost) {
		return "", nil, false, false
	}

	if h.limiter != nil && !h.limiter.Allow(ratelimit.ClientKey(r)) {
		WriteError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		return "", nil, false, false
	}

	var body aiSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return "", nil, false, false
	}
	query = strings.TrimSpace(body.Query)
	if query == "" {
		WriteError(w, http.StatusUnprocessableEntity, "query must not be empty")
		return "", nil, false, false
	}

	ctx := r.Context()
	if hit, err := h.cache.Get(ctx, query); err != nil {
		h.logger.Warn().Err(err).Msg("ai cache lookup failed")
	} else if hit != nil {
		return query, hit, true, true
	}

	if h.translator == nil {
		WriteError(w, http.StatusServiceUnavailable, "natural-language search is not configured")
		return "", nil, false, false
	}

	fresh, err := h.translator.Translate(ctx, query)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ai translation failed")
		WriteError(w, http.StatusServiceUnavailable, "translation provider unavailable")
		return "", nil, false, false
	}

	if err := h.cache.PutWithTTL(ctx, query, *fresh, h.ttl); err != nil {
		h.logger.Warn().Err(err).Msg("ai cache write failed")
	}

	return query, fresh, false, true
}

// SearchURL renders a structured filter set as the canonical /search URL
// the frontend navigates to, using the same parameter names GET /v1/search
// recognizes.
func SearchURL(p models.SearchParameters) string {
	q := url.Values{}
	setStr := func(key, val string) {
		if val != "" {
			q.Set(key, val)
		}
	}
	setStr("query", p.Query)
	setStr("tasting_notes_query", p.TastingNotesQuery)
	for _, v := range p.Roaster {
		q.Add("roaster", v)
	}
	for _, v := range p.RoasterLocation {
		q.Add("roaster_location", v)
	}
	for _, v := range p.Origin {
		q.Add("origin", v)
	}
	setStr("variety", p.Variety)
	setStr("process", p.Process)
	setStr("roast_level", p.RoastLevel)
	setStr("roast_profile", p.RoastProfile)
	setStr("region", p.Region)
	setStr("producer", p.Producer)
	setStr("farm", p.Farm)
	if p.MinPrice != nil {
		q.Set("min_price", trimFloat(*p.MinPrice))
	}
	if p.MaxPrice != nil {
		q.Set("max_price", trimFloat(*p.MaxPrice))
	}
	if p.MinWeight != nil {
		q.Set("min_weight", strconv.Itoa(*p.MinWeight))
	}
	if p.MaxWeight != nil {
		q.Set("max_weight", strconv.Itoa(*p.MaxWeight))
	}
	if p.MinElevation != nil {
		q.Set("min_elevation", strconv.Itoa(*p.MinElevation))
	}
	if p.MaxElevation != nil {
		q.Set("max_elevation", strconv.Itoa(*p.MaxElevation))
	}
	if p.InStockOnly {
		q.Set("in_stock_only", "true")
	}
	if p.IsDecaf != nil {
		q.Set("is_decaf", strconv.FormatBool(*p.IsDecaf))
	}
	if p.IsSingleOrigin != nil {
		q.Set("is_single_origin", strconv.FormatBool(*p.IsSingleOrigin))
	}
	setStr("convert_to_currency", p.ConvertToCurrency)

	if len(q) == 0 {
		return "/search"
	}
	return fmt.Sprintf("/search?%s", q.Encode())
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
