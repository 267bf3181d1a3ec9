package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/dedup"
	"github.com/ternarybob/kissaten/internal/queue"
)

// AdminHandler answers the /v1/admin routes: enqueueing background
// reingest and recluster jobs, and the farm-cluster manual-review flow
// (list low-confidence clusters, submit approve/reject/partial decisions).
type AdminHandler struct {
	queueManager  *queue.Manager
	db            *sql.DB
	mappingsPath  string
	nameThreshold float64
	logger        arbor.ILogger
}

func NewAdminHandler(queueManager *queue.Manager, db *sql.DB, mappingsPath string, nameThreshold float64, logger arbor.ILogger) *AdminHandler {
	return &AdminHandler{
		queueManager:  queueManager,
		db:            db,
		mappingsPath:  mappingsPath,
		nameThreshold: nameThreshold,
		logger:        logger,
	}
}

type reingestRequest struct {
	DataDir     string `json:"data_dir,omitempty"`
	Incremental *bool  `json:"incremental,omitempty"`
}

// ReingestHandler handles POST /v1/admin/reingest: schedule a loader pass.
func (h *AdminHandler) ReingestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.queueManager == nil {
		WriteError(w, http.StatusServiceUnavailable, "background queue is not configured")
		return
	}

	var body reingestRequest
	if r.Body != nil {
		// An empty body means "reingest with configured defaults".
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	incremental := true
	if body.Incremental != nil {
		incremental = *body.Incremental
	}

	if err := queue.EnqueueReingest(r.Context(), h.queueManager, body.DataDir, incremental); err != nil {
		h.logger.Warn().Err(err).Msg("failed to enqueue reingest job")
		WriteError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job":    queue.JobKindReingest,
	})
}

type reclusterRequest struct {
	Country    string `json:"country,omitempty"`
	RegionSlug string `json:"region_slug,omitempty"`
}

// ReclusterHandler handles POST /v1/admin/recluster: schedule a farm
// deduplication pass for a country (or one region of it).
func (h *AdminHandler) ReclusterHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.queueManager == nil {
		WriteError(w, http.StatusServiceUnavailable, "background queue is not configured")
		return
	}

	var body reclusterRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := queue.EnqueueRecluster(r.Context(), h.queueManager, body.Country, body.RegionSlug); err != nil {
		h.logger.Warn().Err(err).Msg("failed to enqueue recluster job")
		WriteError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job":    queue.JobKindRecluster,
	})
}

// clusterEntryResponse is one farm entry of a cluster in review responses.
type clusterEntryResponse struct {
	FarmNormalized string `json:"farm_normalized"`
	FarmName       string `json:"farm_name"`
	ProducerName   string `json:"producer_name,omitempty"`
	BeanCount      int    `json:"bean_count"`
}

// clusterResponse is one farm cluster in review responses.
type clusterResponse struct {
	CanonicalName string                 `json:"canonical_name"`
	Confidence    float64                `json:"confidence"`
	TotalBeans    int                    `json:"total_beans"`
	Entries       []clusterEntryResponse `json:"entries"`
}

func toClusterResponses(clusters []dedup.Cluster) []clusterResponse {
	out := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		entries := make([]clusterEntryResponse, 0, len(c.Entries))
		for _, e := range c.Entries {
			entries = append(entries, clusterEntryResponse{
				FarmNormalized: e.FarmNormalized,
				FarmName:       e.FarmName,
				ProducerName:   e.ProducerName,
				BeanCount:      e.BeanCount,
			})
		}
		out = append(out, clusterResponse{
			CanonicalName: c.CanonicalName,
			Confidence:    c.Confidence,
			TotalBeans:    c.TotalBeanCount,
			Entries:       entries,
		})
	}
	return out
}

// ReviewHandler dispatches /v1/admin/recluster/review:
//
//	GET  ?country=CO&region=huila  -> clusters below the review threshold
//	POST {country, region_slug, decisions} -> apply decisions and persist
func (h *AdminHandler) ReviewHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listPendingReview(w, r)
	case http.MethodPost:
		h.applyReview(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AdminHandler) listPendingReview(w http.ResponseWriter, r *http.Request) {
	country := strings.ToUpper(r.URL.Query().Get("country"))
	regionSlug := r.URL.Query().Get("region")
	if country == "" || regionSlug == "" {
		WriteError(w, http.StatusUnprocessableEntity, "parameters \"country\" and \"region\" are required")
		return
	}

	clusters, err := dedup.PendingReview(r.Context(), h.db, country, regionSlug, h.nameThreshold)
	if err != nil {
		h.logger.Warn().Err(err).Str("country", country).Str("region", regionSlug).Msg("listing review clusters failed")
		WriteError(w, http.StatusInternalServerError, "failed to compute clusters")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"country":          country,
		"region_slug":      regionSlug,
		"review_threshold": dedup.ReviewThreshold,
		"clusters":         toClusterResponses(clusters),
		"total":            len(clusters),
	})
}

// reviewDecisionRequest is one reviewer decision in the POST body.
type reviewDecisionRequest struct {
	CanonicalName string   `json:"canonical_name"`
	Action        string   `json:"action"` // approve | reject | partial
	Keep          []string `json:"keep,omitempty"`
}

type reviewSubmitRequest struct {
	Country    string                  `json:"country"`
	RegionSlug string                  `json:"region_slug"`
	Decisions  []reviewDecisionRequest `json:"decisions"`
}

func (h *AdminHandler) applyReview(w http.ResponseWriter, r *http.Request) {
	var body reviewSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	body.Country = strings.ToUpper(body.Country)
	if body.Country == "" || body.RegionSlug == "" || len(body.Decisions) == 0 {
		WriteError(w, http.StatusUnprocessableEntity, "country, region_slug, and at least one decision are required")
		return
	}

	reviews := make([]dedup.ReviewRequest, 0, len(body.Decisions))
	for _, d := range body.Decisions {
		decision, ok := parseReviewAction(d.Action)
		if !ok {
			WriteError(w, http.StatusUnprocessableEntity, "action must be one of approve, reject, partial")
			return
		}
		if d.CanonicalName == "" {
			WriteError(w, http.StatusUnprocessableEntity, "every decision needs a canonical_name")
			return
		}
		reviews = append(reviews, dedup.ReviewRequest{
			CanonicalName: d.CanonicalName,
			Decision:      decision,
			Keep:          d.Keep,
		})
	}

	clusters, err := dedup.RunForRegionWithReviews(r.Context(), h.db, h.logger, h.mappingsPath,
		body.Country, body.RegionSlug, h.nameThreshold, reviews)
	if err != nil {
		h.logger.Warn().Err(err).Str("country", body.Country).Str("region", body.RegionSlug).Msg("applying review decisions failed")
		WriteError(w, http.StatusInternalServerError, "failed to apply review decisions")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "saved",
		"country":     body.Country,
		"region_slug": body.RegionSlug,
		"clusters":    toClusterResponses(clusters),
		"total":       len(clusters),
	})
}

func parseReviewAction(action string) (dedup.ReviewDecision, bool) {
	switch strings.ToLower(action) {
	case "approve":
		return dedup.ReviewApprove, true
	case "reject":
		return dedup.ReviewReject, true
	case "partial":
		return dedup.ReviewPartial, true
	default:
		return 0, false
	}
}
