package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(handler.logRequests)

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/prices/{symbol}", handler.GetPrices).Methods("GET")
	api.HandleFunc("/prices/{symbol}/latest", handler.GetLatestPrice).Methods("GET")
	api.HandleFunc("/verify", handler.Verify).Methods("GET")
	api.HandleFunc("/runs/last", handler.GetLastRun).Methods("GET")
	api.HandleFunc("/runs", handler.TriggerRun).Methods("POST")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Emit(logger.DebugLevel, "HTTP request",
			logger.F("method", r.Method), logger.F("path", r.URL.Path),
			logger.F("status", rec.status), logger.F("duration", time.Since(start)))
	})
}
