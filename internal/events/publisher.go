package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/blockedby/teleclone/internal/transfer"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements transfer.EventPublisher
type NATSPublisher struct {
	nc NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: conn}
}

// Subject returns the subject an event of the given mode is published on.
func Subject(mode string) string {
	return SubjectPrefix + "." + mode
}

// PublishRelay publishes one relay outcome. Delivery is fire-and-forget.
func (p *NATSPublisher) PublishRelay(_ context.Context, event transfer.RelayEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(Subject(event.Mode), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}
