package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/currency"
)

// CurrencyHandler answers the /v1/currencies and /v1/convert routes.
type CurrencyHandler struct {
	currencyService *currency.Service
	logger          arbor.ILogger
}

func NewCurrencyHandler(currencyService *currency.Service, logger arbor.ILogger) *CurrencyHandler {
	return &CurrencyHandler{
		currencyService: currencyService,
		logger:          logger,
	}
}

// ListHandler handles GET /v1/currencies: every currency code a rate is
// known for, so frontends can populate a conversion picker.
func (h *CurrencyHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	targets, err := h.currencyService.AllKnownTargets(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("listing currencies failed")
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"currencies": targets,
		"total":      len(targets),
	})
}

// ConvertHandler handles GET /v1/convert?amount=..&from=..&to=..
func (h *CurrencyHandler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	amountRaw := q.Get("amount")
	from := strings.ToUpper(q.Get("from"))
	to := strings.ToUpper(q.Get("to"))

	if amountRaw == "" || from == "" || to == "" {
		WriteError(w, http.StatusUnprocessableEntity, "parameters \"amount\", \"from\", and \"to\" are required")
		return
	}
	amount, err := strconv.ParseFloat(amountRaw, 64)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "parameter \"amount\" must be a number")
		return
	}

	converted, err := h.currencyService.Convert(r.Context(), amount, from, to)
	if err != nil {
		h.logger.Warn().Err(err).Str("from", from).Str("to", to).Msg("conversion failed")
		WriteAppError(w, err)
		return
	}

	// A missing rate leg degrades to a null result, not an error.
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"amount":    amount,
		"from":      from,
		"to":        to,
		"converted": converted,
	})
}

// UpdateHandler handles POST /v1/currencies/update: fetch a fresh rate
// table only if the stored one is stale (older than the stale window).
func (h *CurrencyHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	h.refresh(w, r, false)
}

// RefreshHandler handles POST /v1/currencies/refresh: fetch a fresh rate
// table unconditionally.
func (h *CurrencyHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	h.refresh(w, r, true)
}

func (h *CurrencyHandler) refresh(w http.ResponseWriter, r *http.Request, force bool) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.currencyService.RefreshIfStale(r.Context(), force); err != nil {
		h.logger.Warn().Err(err).Bool("force", force).Msg("currency refresh failed")
		WriteError(w, http.StatusServiceUnavailable, "currency provider unavailable")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "success",
	})
}
