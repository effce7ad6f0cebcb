package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// WatchOptions selects which receipts WatchReceipts delivers.
type WatchOptions struct {
	// Network and Kind filter the subject; empty matches any.
	Network string
	Kind    string

	// Durable names a consumer that survives restarts. Empty means ephemeral.
	Durable string

	// NewOnly skips receipts published before the consumer was created.
	NewOnly bool
}

// WatchReceipts consumes receipts from the stream and calls handle for each one
// until ctx is done. Messages that don't decode are logged and acknowledged.
func WatchReceipts(ctx context.Context, js jetstream.JetStream, opts WatchOptions, logger *slog.Logger, handle func(*ReceiptEvent) error) error {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: SubjectFor(opts.Network, opts.Kind),
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if opts.NewOnly {
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.Name = opts.Durable
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgs := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	logger.DebugContext(ctx, "watching receipts", "filter", cfg.FilterSubject)

	for {
		select {
		case msg := <-msgs:
			var event ReceiptEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				logger.WarnContext(ctx, "failed to decode receipt",
					"subject", msg.Subject(),
					"error", err,
				)
				_ = msg.Ack()
				continue
			}
			if err := handle(&event); err != nil {
				return err
			}
			_ = msg.Ack()
		case <-ctx.Done():
			return nil
		}
	}
}
