package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/ingest"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
	"github.com/trogers1052/stock-ingest-pipeline/internal/status"
)

// MockStore serves prices from memory
type MockStore struct {
	prices      map[string][]*models.StockPrice
	pingErr     error
	latestCalls int
}

func (m *MockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *MockStore) GetStockPrice(ctx context.Context, symbol string, date models.Date) (*models.StockPrice, error) {
	for _, p := range m.prices[symbol] {
		if p.Timestamp == date {
			return p, nil
		}
	}
	return nil, errors.New("price data not found")
}

func (m *MockStore) GetStockPricesBySymbol(ctx context.Context, symbol string, limit int) ([]*models.StockPrice, error) {
	prices := m.prices[symbol]
	if len(prices) > limit {
		prices = prices[:limit]
	}
	return prices, nil
}

func (m *MockStore) LatestTimestamp(ctx context.Context, symbol string) (models.Date, bool, error) {
	m.latestCalls++
	prices := m.prices[symbol]
	if len(prices) == 0 {
		return models.Date{}, false, nil
	}
	return prices[0].Timestamp, true, nil
}

type MockVerifier struct {
	gotDate models.Date
}

func (m *MockVerifier) Verify(ctx context.Context, date models.Date, expected []string) (*models.VerificationReport, error) {
	m.gotDate = date
	return &models.VerificationReport{Date: date, Present: map[string]int{}, Missing: expected, NullRecords: map[string]int{}}, nil
}

type MockRunner struct {
	gotSymbols []string
	err        error
}

func (m *MockRunner) Run(ctx context.Context, symbols []string) (*models.RunReport, error) {
	m.gotSymbols = symbols
	if m.err != nil {
		return nil, m.err
	}
	if len(symbols) == 0 {
		return nil, &apperrors.ConfigurationError{Field: "STOCK_SYMBOLS", Message: "no symbols configured"}
	}
	report := &models.RunReport{RunID: "run-1"}
	for _, s := range symbols {
		report.Outcomes = append(report.Outcomes, models.SymbolOutcome{Symbol: s, State: models.StateDone})
	}
	return report, nil
}

type MockStatus struct {
	report *models.RunReport
}

func (m *MockStatus) LastRun(ctx context.Context) (*models.RunReport, error) {
	if m.report == nil {
		return nil, status.ErrNoRun
	}
	return m.report, nil
}

func testPrice(symbol string, day int, close string) *models.StockPrice {
	return &models.StockPrice{
		Symbol:    symbol,
		Timestamp: models.NewDate(2024, time.January, day),
		Close:     decimal.NewNullDecimal(decimal.RequireFromString(close)),
	}
}

func newTestStore() *MockStore {
	return &MockStore{prices: map[string][]*models.StockPrice{
		"AAPL": {testPrice("AAPL", 15, "185.92"), testPrice("AAPL", 12, "185.59"), testPrice("AAPL", 11, "185.14")},
	}}
}

func serve(t *testing.T, h *Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	SetupRoutes(h).ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewHandler(newTestStore(), &MockVerifier{}, &MockRunner{}, nil, nil, nil)
		rec := serve(t, h, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("database down", func(t *testing.T) {
		store := newTestStore()
		store.pingErr = errors.New("connection refused")
		h := NewHandler(store, &MockVerifier{}, &MockRunner{}, nil, nil, nil)
		rec := serve(t, h, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestGetPrices(t *testing.T) {
	h := NewHandler(newTestStore(), &MockVerifier{}, &MockRunner{}, nil, nil, nil)

	t.Run("limit", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/api/v1/prices/aapl?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var prices []models.StockPrice
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prices))
		require.Len(t, prices, 2)
		assert.Equal(t, "2024-01-15", prices[0].Timestamp.String())
	})

	t.Run("unknown symbol is an empty list", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/api/v1/prices/NOPE", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/api/v1/prices/AAPL?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetLatestPrice(t *testing.T) {
	store := newTestStore()
	h := NewHandler(store, &MockVerifier{}, &MockRunner{}, nil, []string{"AAPL"}, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/prices/AAPL/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var price models.StockPrice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &price))
	assert.Equal(t, "2024-01-15", price.Timestamp.String())
	assert.Equal(t, "185.92", price.Close.Decimal.String())

	t.Run("second lookup is cached", func(t *testing.T) {
		serve(t, h, http.MethodGet, "/api/v1/prices/AAPL/latest", "")
		assert.Equal(t, 1, store.latestCalls)
	})

	t.Run("run invalidates cached symbols", func(t *testing.T) {
		serve(t, h, http.MethodPost, "/api/v1/runs", "")
		serve(t, h, http.MethodGet, "/api/v1/prices/AAPL/latest", "")
		assert.Equal(t, 2, store.latestCalls)
	})

	t.Run("no data", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/api/v1/prices/NOPE/latest", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestVerify(t *testing.T) {
	v := &MockVerifier{}
	h := NewHandler(newTestStore(), v, &MockRunner{}, nil, []string{"AAPL", "MSFT"}, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/verify?date=2024-01-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.NewDate(2024, time.January, 15), v.gotDate)

	var report models.VerificationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"AAPL", "MSFT"}, report.Missing)

	t.Run("bad date", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/api/v1/verify?date=15/01/2024", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRuns(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		h := NewHandler(newTestStore(), &MockVerifier{}, &MockRunner{}, &MockStatus{}, nil, nil)
		rec := serve(t, h, http.MethodGet, "/api/v1/runs/last", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("last run from status store", func(t *testing.T) {
		runs := &MockStatus{report: &models.RunReport{RunID: "run-9"}}
		h := NewHandler(newTestStore(), &MockVerifier{}, &MockRunner{}, runs, nil, nil)
		rec := serve(t, h, http.MethodGet, "/api/v1/runs/last", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "run-9")
	})

	t.Run("trigger with body symbols", func(t *testing.T) {
		runner := &MockRunner{}
		h := NewHandler(newTestStore(), &MockVerifier{}, runner, nil, []string{"AAPL"}, nil)

		rec := serve(t, h, http.MethodPost, "/api/v1/runs", `{"symbols": [" msft", "tsla", "MSFT"]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"MSFT", "TSLA"}, runner.gotSymbols)

		t.Run("last run without status store", func(t *testing.T) {
			rec := serve(t, h, http.MethodGet, "/api/v1/runs/last", "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "run-1")
		})
	})

	t.Run("trigger with no symbols is a bad request", func(t *testing.T) {
		h := NewHandler(newTestStore(), &MockVerifier{}, &MockRunner{}, nil, nil, nil)
		rec := serve(t, h, http.MethodPost, "/api/v1/runs", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		h := NewHandler(newTestStore(), &MockVerifier{}, &MockRunner{}, nil, []string{"AAPL"}, nil)
		rec := serve(t, h, http.MethodPost, "/api/v1/runs", `{"symbols":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTriggerRunWhileRunning(t *testing.T) {
	h := NewHandler(newTestStore(), &MockVerifier{}, &MockRunner{err: ingest.ErrRunInProgress}, nil, []string{"AAPL"}, nil)
	rec := serve(t, h, http.MethodPost, "/api/v1/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestLatestCacheEvictedByPipelineOutcomes(t *testing.T) {
	store := newTestStore()
	latest := NewLatestCache()
	h := NewHandler(store, &MockVerifier{}, &MockRunner{}, nil, []string{"AAPL"}, nil, WithLatestCache(latest))

	serve(t, h, http.MethodGet, "/api/v1/prices/AAPL/latest", "")
	serve(t, h, http.MethodGet, "/api/v1/prices/AAPL/latest", "")
	require.Equal(t, 1, store.latestCalls)

	t.Run("failed symbol keeps its entry", func(t *testing.T) {
		require.NoError(t, latest.PublishSymbolOutcome(context.Background(), "run-1",
			models.SymbolOutcome{Symbol: "AAPL", State: models.StateFailed}))
		serve(t, h, http.MethodGet, "/api/v1/prices/AAPL/latest", "")
		assert.Equal(t, 1, store.latestCalls)
	})

	t.Run("done symbol from a scheduled run is evicted", func(t *testing.T) {
		require.NoError(t, latest.PublishSymbolOutcome(context.Background(), "run-2",
			models.SymbolOutcome{Symbol: "AAPL", State: models.StateDone, Records: 100}))
		serve(t, h, http.MethodGet, "/api/v1/prices/AAPL/latest", "")
		assert.Equal(t, 2, store.latestCalls)
	})

	require.NoError(t, latest.PublishRunCompleted(context.Background(), &models.RunReport{RunID: "run-2"}))
}
