package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing submission receipts to NATS.
type Publisher interface {
	// PublishReceipt publishes a single receipt to JetStream on the
	// subject "submissions.{network}.{kind}".
	PublishReceipt(ctx context.Context, event *ReceiptEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes submission receipts to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for submission receipts.
	StreamName = "SUBMISSIONS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "submissions.>"

	// StreamRetention is how long receipts are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// SubjectFor returns the subject for receipts of kind on network. Empty parts
// become "*" so the result can also be used as a consumer filter.
func SubjectFor(network, kind string) string {
	return fmt.Sprintf("submissions.%s.%s", subjectToken(network), subjectToken(kind))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "*"
	}
	// NATS tokens cannot contain dots or whitespace.
	return strings.NewReplacer(".", "_", " ", "_").Replace(s)
}

// Connect dials NATS with the options shared by publishers and subscribers.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. If m is nil, no metrics
// are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "ledgerlab-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger.With("component", "receipts"),
	}

	if err := EnsureStream(context.Background(), js, publisher.logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	publisher.logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the receipts stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Receipts of signed transaction submissions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishReceipt publishes a single receipt.
func (p *JetStreamPublisher) PublishReceipt(ctx context.Context, event *ReceiptEvent) error {
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish receipt: %w", err)
	}

	p.logger.DebugContext(ctx, "published receipt",
		"subject", subject,
		"signature", event.Signature,
		"status", event.Status,
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
