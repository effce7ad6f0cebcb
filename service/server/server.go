package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/ledgerlab/service/metrics"
)

// Server is the HTTP API over the submission journal, the transfer workflow
// and the receipt stream.
type Server struct {
	addr      string
	store     SubmissionStore
	transfers Transfers
	receipts  ReceiptSource
	metrics   *metrics.Metrics
	metricsH  http.Handler
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// Any of store, transfers and receipts may be nil; their routes answer 503.
// If m is nil, requests are not measured.
func New(addr string, store SubmissionStore, transfers Transfers, receipts ReceiptSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		store:     store,
		transfers: transfers,
		receipts:  receipts,
		metrics:   m,
		logger:    logger,
	}
}

// WithMetricsHandler serves h on GET /metrics.
func (s *Server) WithMetricsHandler(h http.Handler) *Server {
	s.metricsH = h
	return s
}

// Handler builds the routed handler. Start serves it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	measured := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	mux.Handle("GET /api/v1/submissions", measured("list_submissions", handleListSubmissions(s.store, s.logger)))
	mux.Handle("GET /api/v1/submissions/{signature}", measured("get_submission", handleGetSubmission(s.store, s.logger)))
	mux.Handle("POST /api/v1/transfers", measured("start_transfer", handleStartTransfer(s.transfers, s.logger)))
	mux.Handle("GET /api/v1/transfers/{workflow_id}", measured("transfer_status", handleTransferStatus(s.transfers, s.logger)))

	// Streams stay unmeasured; their duration is the client's connection time.
	mux.Handle("GET /api/v1/stream/receipts", handleStreamReceipts(s.receipts, s.logger))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: receipt streams are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"journal", s.store != nil,
		"transfers", s.transfers != nil,
		"receipts", s.receipts != nil,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
