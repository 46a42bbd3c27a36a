package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/trogers1052/stock-ingest-pipeline/internal/config"
	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/ingest"
	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
	"github.com/trogers1052/stock-ingest-pipeline/internal/status"
)

const (
	defaultLimit = 30
	maxLimit     = 1000
)

// PriceStore is the read side of the price table
type PriceStore interface {
	Ping(ctx context.Context) error
	GetStockPrice(ctx context.Context, symbol string, date models.Date) (*models.StockPrice, error)
	GetStockPricesBySymbol(ctx context.Context, symbol string, limit int) ([]*models.StockPrice, error)
	LatestTimestamp(ctx context.Context, symbol string) (models.Date, bool, error)
}

// Verifier reports completeness for a day
type Verifier interface {
	Verify(ctx context.Context, date models.Date, expected []string) (*models.VerificationReport, error)
}

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, symbols []string) (*models.RunReport, error)
}

// RunStatus returns the last recorded run
type RunStatus interface {
	LastRun(ctx context.Context) (*models.RunReport, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store    PriceStore
	verifier Verifier
	runner   Runner
	status   RunStatus
	symbols  []string
	latest   *LatestCache
	log      logger.Emitter

	// lastRun is served when no RunStatus is configured
	mu      sync.Mutex
	lastRun *models.RunReport
}

// HandlerOption customizes a Handler
type HandlerOption func(*Handler)

// WithLatestCache shares c with the handler, typically one also registered
// as a pipeline publisher.
func WithLatestCache(c *LatestCache) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.latest = c
		}
	}
}

// NewHandler creates a new Handler. runs may be nil.
func NewHandler(store PriceStore, verifier Verifier, runner Runner, runs RunStatus, symbols []string, log logger.Emitter, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:    store,
		verifier: verifier,
		runner:   runner,
		status:   runs,
		symbols:  symbols,
		latest:   NewLatestCache(),
		log:      logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetPrices handles GET /prices/{symbol}?limit=
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLimit)
	}

	prices, err := h.store.GetStockPricesBySymbol(r.Context(), symbol, limit)
	if err != nil {
		h.log.Emit(logger.ErrorLevel, "Failed to read prices", logger.F("symbol", symbol), logger.Err(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if prices == nil {
		prices = []*models.StockPrice{}
	}

	respondJSON(w, http.StatusOK, prices)
}

// GetLatestPrice handles GET /prices/{symbol}/latest
func (h *Handler) GetLatestPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	latest, ok, err := h.latestTimestamp(r.Context(), symbol)
	if err != nil {
		h.log.Emit(logger.ErrorLevel, "Failed to read latest timestamp", logger.F("symbol", symbol), logger.Err(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no price data for "+symbol, http.StatusNotFound)
		return
	}

	price, err := h.store.GetStockPrice(r.Context(), symbol, latest)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, price)
}

func (h *Handler) latestTimestamp(ctx context.Context, symbol string) (models.Date, bool, error) {
	if v, found := h.latest.Get(symbol); found {
		return v, true, nil
	}
	latest, ok, err := h.store.LatestTimestamp(ctx, symbol)
	if err != nil || !ok {
		return latest, ok, err
	}
	h.latest.Set(symbol, latest)
	return latest, true, nil
}

// Verify handles GET /verify?date=YYYY-MM-DD; the date defaults to today
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	date := models.DateOf(time.Now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := models.ParseDate(raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = d
	}

	report, err := h.verifier.Verify(r.Context(), date, h.symbols)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// GetLastRun handles GET /runs/last
func (h *Handler) GetLastRun(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		h.mu.Lock()
		report := h.lastRun
		h.mu.Unlock()
		if report == nil {
			http.Error(w, status.ErrNoRun.Error(), http.StatusNotFound)
			return
		}
		respondJSON(w, http.StatusOK, report)
		return
	}

	report, err := h.status.LastRun(r.Context())
	if errors.Is(err, status.ErrNoRun) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// TriggerRun handles POST /runs. An optional body {"symbols": [...]} overrides
// the configured symbols. The run completes before the response is written.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbols []string `json:"symbols"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	symbols := h.symbols
	if len(req.Symbols) > 0 {
		symbols = config.ParseSymbols(strings.Join(req.Symbols, ","))
	}

	report, err := h.runner.Run(r.Context(), symbols)
	if errors.Is(err, ingest.ErrRunInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if apperrors.IsConfiguration(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	for _, symbol := range report.Succeeded() {
		h.latest.Invalidate(symbol)
	}
	h.mu.Lock()
	h.lastRun = report
	h.mu.Unlock()

	respondJSON(w, http.StatusOK, report)
}

func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}
