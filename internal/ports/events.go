package ports

import "context"

// EventPublisher is the outbound domain-event publish port.
// The outbox worker uses it so broker details stay in adapters.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error
}
