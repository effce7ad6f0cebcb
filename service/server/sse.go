package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// keepaliveInterval is how often idle streams get a comment line.
var keepaliveInterval = 10 * time.Second

// ReceiptSource delivers receipts to handle until ctx is done.
type ReceiptSource interface {
	WatchReceipts(ctx context.Context, opts natspkg.WatchOptions, handle func(*natspkg.ReceiptEvent) error) error
}

// SSEPublisher reads receipts from JetStream for Server-Sent Events streams.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS and makes sure the receipts stream exists.
func NewSSEPublisher(ctx context.Context, natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "ledgerlab-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := natspkg.EnsureStream(ctx, js, logger); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// WatchReceipts consumes receipts on an ephemeral consumer.
func (p *SSEPublisher) WatchReceipts(ctx context.Context, opts natspkg.WatchOptions, handle func(*natspkg.ReceiptEvent) error) error {
	return natspkg.WatchReceipts(ctx, p.js, opts, p.logger, handle)
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamReceipts streams receipts published after the client connects.
// Query parameters network and kind narrow the subject filter.
func handleStreamReceipts(source ReceiptSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if source == nil {
			writeError(w, "receipt stream is not configured", http.StatusServiceUnavailable)
			return
		}

		opts := natspkg.WatchOptions{
			Network: r.URL.Query().Get("network"),
			Kind:    r.URL.Query().Get("kind"),
			NewOnly: true,
		}
		filter := natspkg.SubjectFor(opts.Network, opts.Kind)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flush := func() {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"filter", filter,
			"remote_addr", r.RemoteAddr,
		)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		events := make(chan *natspkg.ReceiptEvent)
		done := make(chan error, 1)
		go func() {
			done <- source.WatchReceipts(ctx, opts, func(event *natspkg.ReceiptEvent) error {
				select {
				case events <- event:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"filter\":%q}\n\n", filter)
		flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case event := <-events:
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal receipt", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: receipt\ndata: %s\n\n", data)
				flush()

				logger.DebugContext(r.Context(), "sent receipt event",
					"subject", event.Subject(),
					"signature", event.Signature,
				)

			case err := <-done:
				if err != nil && r.Context().Err() == nil {
					logger.ErrorContext(r.Context(), "receipt stream failed", "error", err)
					fmt.Fprintf(w, "event: error\ndata: {\"error\":\"stream failed\"}\n\n")
					flush()
				}
				return

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"filter", filter,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
