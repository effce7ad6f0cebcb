package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	receipts     []*ReceiptEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		receipts: make([]*ReceiptEvent, 0),
	}
}

// PublishReceipt records the event and returns any configured error.
func (m *MockPublisher) PublishReceipt(ctx context.Context, event *ReceiptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.receipts = append(m.receipts, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Receipts returns a copy of every published receipt.
func (m *MockPublisher) Receipts() []*ReceiptEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ReceiptEvent, len(m.receipts))
	copy(events, m.receipts)
	return events
}

// ReceiptsForSubject returns receipts published to subject.
func (m *MockPublisher) ReceiptsForSubject(subject string) []*ReceiptEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ReceiptEvent, 0)
	for _, event := range m.receipts {
		if event.Subject() == subject {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishReceipt.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
