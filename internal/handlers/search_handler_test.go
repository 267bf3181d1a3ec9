package handlers

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/apperr"
	"github.com/ternarybob/kissaten/internal/models"
)

func TestParseSearchRequest_Defaults(t *testing.T) {
	req, err := ParseSearchRequest(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 1, req.Page)
	assert.Equal(t, 20, req.PerPage)
	assert.False(t, req.InStockOnly)
	assert.Nil(t, req.IsDecaf)
}

func TestParseSearchRequest_RecognizedOptions(t *testing.T) {
	q := url.Values{}
	q.Set("query", "fruity")
	q.Set("variety", "Gesha|Bourbon")
	q.Set("min_price", "10.5")
	q.Set("max_weight", "500")
	q.Set("in_stock_only", "true")
	q.Set("is_decaf", "false")
	q.Set("sort_by", "price")
	q.Set("sort_order", "desc")
	q.Set("page", "3")
	q.Set("per_page", "50")
	q.Set("convert_to_currency", "usd")
	q.Add("origin", "CO,ET")
	q.Add("origin", "BR")
	q.Add("roaster", "Acme")

	req, err := ParseSearchRequest(q)
	require.NoError(t, err)
	assert.Equal(t, "fruity", req.Query)
	assert.Equal(t, "Gesha|Bourbon", req.Variety)
	assert.Equal(t, 10.5, *req.MinPrice)
	assert.Equal(t, 500, *req.MaxWeight)
	assert.True(t, req.InStockOnly)
	require.NotNil(t, req.IsDecaf)
	assert.False(t, *req.IsDecaf)
	assert.Equal(t, models.SortPrice, req.SortBy)
	assert.Equal(t, models.OrderDesc, req.SortOrder)
	assert.Equal(t, 3, req.Page)
	assert.Equal(t, 50, req.PerPage)
	assert.Equal(t, "USD", req.ConvertToCurrency)
	assert.Equal(t, []string{"CO", "ET", "BR"}, req.Origin)
	assert.Equal(t, []string{"Acme"}, req.Roaster)
}

func TestParseSearchRequest_MalformedNumberIsValidationError(t *testing.T) {
	q := url.Values{}
	q.Set("min_price", "cheap")
	_, err := ParseSearchRequest(q)
	require.Error(t, err)
	assert.Equal(t, 422, apperr.StatusCode(err))
}

func TestSearchURL_RoundTripsThroughParse(t *testing.T) {
	maxPrice := 25.0
	params := models.SearchParameters{
		Origin:            []string{"ET"},
		TastingNotesQuery: "fruit*|berry*",
		MaxPrice:          &maxPrice,
		InStockOnly:       true,
	}

	u := SearchURL(params)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "/search", parsed.Path)

	req, err := ParseSearchRequest(parsed.Query())
	require.NoError(t, err)
	assert.Equal(t, []string{"ET"}, req.Origin)
	assert.Equal(t, "fruit*|berry*", req.TastingNotesQuery)
	assert.Equal(t, 25.0, *req.MaxPrice)
	assert.True(t, req.InStockOnly)
}

func TestSearchURL_EmptyParams(t *testing.T) {
	assert.Equal(t, "/search", SearchURL(models.SearchParameters{}))
}
