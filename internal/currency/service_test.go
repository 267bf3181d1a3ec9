package currency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/models"
)

type fakeStore struct {
	fresh      bool
	rates      map[string]float64 // target -> rate, base always USD
	replaced   []models.CurrencyRate
	purgedFrom time.Time
}

func (f *fakeStore) HasFreshRate(ctx context.Context, since time.Time) (bool, error) {
	return f.fresh, nil
}

func (f *fakeStore) ReplaceToday(ctx context.Context, rates []models.CurrencyRate, now time.Time) error {
	f.replaced = rates
	if f.rates == nil {
		f.rates = map[string]float64{}
	}
	for _, r := range rates {
		f.rates[r.Target] = r.Rate
	}
	return nil
}

func (f *fakeStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.purgedFrom = cutoff
	return 0, nil
}

func (f *fakeStore) LatestRate(ctx context.Context, base, target string) (float64, bool, error) {
	if base == target {
		return 1, true, nil
	}
	rate, ok := f.rates[target]
	return rate, ok, nil
}

func (f *fakeStore) AllLatestTargets(ctx context.Context, base string) ([]string, error) {
	var out []string
	for t := range f.rates {
		out = append(out, t)
	}
	return out, nil
}

func newTestService(t *testing.T, store Storage, serverURL string) *Service {
	t.Helper()
	cfg := common.CurrencyConfig{
		APIKey:     "test",
		BaseURL:    serverURL,
		StaleAfter: "23h",
		RetainFor:  "168h",
	}
	return NewService(store, cfg, nil)
}

func TestRefreshIfStale_SkipsWhenFresh(t *testing.T) {
	store := &fakeStore{fresh: true}
	svc := newTestService(t, store, "http://unused")

	err := svc.RefreshIfStale(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, store.replaced)
}

func TestRefreshIfStale_FetchesWhenStale(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"base":      "USD",
			"timestamp": time.Now().Unix(),
			"rates":     map[string]float64{"EUR": 0.9, "GBP": 0.8},
		})
	}))
	defer server.Close()

	store := &fakeStore{fresh: false}
	svc := newTestService(t, store, server.URL)

	err := svc.RefreshIfStale(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, store.replaced)
	assert.Equal(t, 0.9, store.rates["EUR"])
	assert.Equal(t, 1.0, store.rates["USD"])
}

func TestConvert_SameCurrency(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, "http://unused")

	result, err := svc.Convert(context.Background(), 10, "USD", "USD")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 10.0, *result)
}

func TestConvert_USDPivot(t *testing.T) {
	store := &fakeStore{rates: map[string]float64{"EUR": 0.9, "GBP": 0.8}}
	svc := newTestService(t, store, "http://unused")

	result, err := svc.Convert(context.Background(), 100, "EUR", "GBP")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.InDelta(t, (100/0.9)*0.8, *result, 0.0001)
}

func TestConvert_MissingRateReturnsNil(t *testing.T) {
	store := &fakeStore{rates: map[string]float64{}}
	svc := newTestService(t, store, "http://unused")

	result, err := svc.Convert(context.Background(), 100, "EUR", "GBP")
	require.NoError(t, err)
	assert.Nil(t, result)
}
