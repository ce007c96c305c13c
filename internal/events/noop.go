package events

import "context"

// NoopPublisher drops every pipeline event. It stands in for NATS when
// DWH_NATS_URL is unset so the stages can publish unconditionally.
type NoopPublisher struct{}

// Publish discards the event.
func (p *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

// Close is a no-op; there is no connection to tear down.
func (p *NoopPublisher) Close() error { return nil }
