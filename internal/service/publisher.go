// Path: internal/service/publisher.go
package service

import (
	"context"

	"push-broker/internal/domain"
)

// Publisher is the part of the broker the producer service drives.
// *events.Broker satisfies it.
type Publisher interface {
	// SendToUser pushes an event to every local channel of owner.
	SendToUser(ctx context.Context, owner string, ev domain.Event) (int, error)

	// Broadcast pushes an event to every local channel.
	Broadcast(ctx context.Context, ev domain.Event) (int, error)

	// ListActive returns the registry records of the local channels.
	ListActive(ctx context.Context) ([]domain.Channel, error)
}
