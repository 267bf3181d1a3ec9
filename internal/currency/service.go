// Package currency implements the USD-pivot currency conversion service of
// §4.4, grounded on internal/services/exchange/service.go's
// cache-then-fetch-then-store shape fused with original_source's fx.py
// staleness/retention semantics.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/apperr"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

// Storage is the persistence surface Service needs, satisfied by
// *sqlite.CurrencyStorage. Declared here (not imported by concrete type in
// signatures) so tests can substitute a fake.
type Storage interface {
	HasFreshRate(ctx context.Context, since time.Time) (bool, error)
	ReplaceToday(ctx context.Context, rates []models.CurrencyRate, now time.Time) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	LatestRate(ctx context.Context, base, target string) (float64, bool, error)
	AllLatestTargets(ctx context.Context, base string) ([]string, error)
}

var _ Storage = (*sqlite.CurrencyStorage)(nil)

// Option configures a Service at construction time, matching the
// exchange service's WithCacheTTL fluent style.
type Option func(*Service)

// WithStaleAfter overrides the default 23-hour staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) { s.staleAfter = d }
}

// WithRetainFor overrides the default 7-day retention window.
func WithRetainFor(d time.Duration) Option {
	return func(s *Service) { s.retainFor = d }
}

// WithHTTPClient overrides the default http.Client used to reach the
// exchange rate provider, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// Service is the process-wide currency conversion state described in
// §4.4: "the service is a process-wide state S initialized once; concurrent
// readers may call convert while a refresh writes."
type Service struct {
	store      Storage
	logger     arbor.ILogger
	httpClient *http.Client
	apiKey     string
	baseURL    string
	staleAfter time.Duration
	retainFor  time.Duration
	cron       *cron.Cron
}

// NewService constructs a Service. A nil logger falls back to
// common.GetLogger(), matching exchange.NewService's nil-guard idiom.
func NewService(store Storage, cfg common.CurrencyConfig, logger arbor.ILogger, opts ...Option) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	staleAfter, err := time.ParseDuration(cfg.StaleAfter)
	if err != nil || staleAfter <= 0 {
		staleAfter = 23 * time.Hour
	}
	retainFor, err := time.ParseDuration(cfg.RetainFor)
	if err != nil || retainFor <= 0 {
		retainFor = 7 * 24 * time.Hour
	}
	s := &Service{
		store:      store,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		staleAfter: staleAfter,
		retainFor:  retainFor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// openExchangeRatesResponse mirrors the provider contract of §6: a JSON
// document with a "rates" object keyed by target currency code.
type openExchangeRatesResponse struct {
	Base      string             `json:"base"`
	Timestamp int64              `json:"timestamp"`
	Rates     map[string]float64 `json:"rates"`
}

// RefreshIfStale fetches and stores new rates only when no row is fresher
// than the staleAfter window, matching §4.4's "stale check". Pass force to
// bypass the check.
func (s *Service) RefreshIfStale(ctx context.Context, force bool) error {
	if !force {
		fresh, err := s.store.HasFreshRate(ctx, time.Now().Add(-s.staleAfter))
		if err != nil {
			return fmt.Errorf("checking currency staleness: %w", err)
		}
		if fresh {
			s.logger.Debug().Msg("currency rates are fresh, skipping refresh")
			return nil
		}
	}
	return s.refresh(ctx)
}

func (s *Service) refresh(ctx context.Context) error {
	resp, err := s.fetchFromAPI(ctx)
	if err != nil {
		return apperr.UpstreamUnavailable("fetching exchange rates", err)
	}

	now := time.Now().UTC()
	rates := make([]models.CurrencyRate, 0, len(resp.Rates)+1)
	base := resp.Base
	if base == "" {
		base = "USD"
	}
	dataTS := time.Unix(resp.Timestamp, 0).UTC()
	rates = append(rates, models.CurrencyRate{Base: base, Target: base, Rate: 1.0, FetchedAt: now, DataTimestamp: dataTS})
	for target, rate := range resp.Rates {
		rates = append(rates, models.CurrencyRate{Base: base, Target: target, Rate: rate, FetchedAt: now, DataTimestamp: dataTS})
	}

	if err := s.store.ReplaceToday(ctx, rates, now); err != nil {
		return fmt.Errorf("storing refreshed currency rates: %w", err)
	}

	if n, err := s.store.PurgeOlderThan(ctx, now.Add(-s.retainFor)); err != nil {
		s.logger.Warn().Err(err).Msg("purging stale currency rates failed")
	} else if n > 0 {
		s.logger.Info().Int64("purged", n).Msg("purged stale currency rate rows")
	}

	s.logger.Info().Int("rates", len(rates)).Msg("refreshed currency rates")
	return nil
}

func (s *Service) fetchFromAPI(ctx context.Context) (*openExchangeRatesResponse, error) {
	url := fmt.Sprintf("%s?app_id=%s&base=USD", s.baseURL, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building exchange rate request: %w", err)
	}
	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling exchange rate provider: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange rate provider returned status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading exchange rate response: %w", err)
	}

	var parsed openExchangeRatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing exchange rate response: %w", err)
	}
	return &parsed, nil
}

// Convert performs a USD-pivot conversion (§4.4: "convert(amount, from, to)
// returns via USD pivot using the newest per-currency rate; returns null
// when either leg is missing or the from-leg rate is zero").
func (s *Service) Convert(ctx context.Context, amount float64, from, to string) (*float64, error) {
	if from == to {
		return &amount, nil
	}

	var usdAmount float64
	if from == "USD" {
		usdAmount = amount
	} else {
		fromRate, ok, err := s.store.LatestRate(ctx, "USD", from)
		if err != nil {
			return nil, fmt.Errorf("looking up rate USD->%s: %w", from, err)
		}
		if !ok || fromRate == 0 {
			return nil, nil
		}
		usdAmount = amount / fromRate
	}

	if to == "USD" {
		return &usdAmount, nil
	}

	toRate, ok, err := s.store.LatestRate(ctx, "USD", to)
	if err != nil {
		return nil, fmt.Errorf("looking up rate USD->%s: %w", to, err)
	}
	if !ok {
		return nil, nil
	}
	converted := usdAmount * toRate
	return &converted, nil
}

// AllKnownTargets returns every currency code with a stored rate against
// USD, used by the loader to null out price_usd for unconvertible currencies.
func (s *Service) AllKnownTargets(ctx context.Context) ([]string, error) {
	return s.store.AllLatestTargets(ctx, "USD")
}

// StartScheduledRefresh registers the daily refresh job on a robfig/cron/v3
// scheduler, matching the teacher's use of cron for scheduled collection.
// Callers own the returned *cron.Cron's lifecycle (Start/Stop).
func (s *Service) StartScheduledRefresh(schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.RefreshIfStale(ctx, false); err != nil {
			s.logger.Error().Err(err).Msg("scheduled currency refresh failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling currency refresh %q: %w", schedule, err)
	}
	s.cron = c
	return c, nil
}
