// Path: internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"push-broker/internal/domain"
	"push-broker/internal/logger"
)

// TestEventMessage is the message carried by diagnostic test events.
const TestEventMessage = "This is a test event"

// ErrInvalidEvent wraps every rejection of producer input.
var ErrInvalidEvent = errors.New("invalid event")

// Service is the producer-facing entry point: it turns producer input into
// typed events and routes them through the broker.
type Service struct {
	broker Publisher
	log    *slog.Logger
	now    func() time.Time
	random func() float64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom replaces the source of the test event's random value.
func WithRandom(random func() float64) Option {
	return func(s *Service) {
		if random != nil {
			s.random = random
		}
	}
}

// NewService creates a new producer service.
func NewService(broker Publisher, opts ...Option) *Service {
	s := &Service{
		broker: broker,
		log:    logger.Discard(),
		now:    time.Now,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("service"))
	return s
}

// SendEvent validates in and delivers it. Broadcast wins over UserID; with
// neither set nothing is sent and the count is zero.
func (s *Service) SendEvent(ctx context.Context, in domain.SendEventInput) (int, error) {
	ev, err := in.Event()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	switch {
	case bool(in.Broadcast):
		return s.Broadcast(ctx, ev)
	case in.UserID != "":
		return s.SendToUser(ctx, in.UserID, ev)
	default:
		s.log.Warn("no target specified for event (neither userId nor broadcast)", logger.EventType(in.Type))
		return 0, nil
	}
}

// SendToUser delivers ev to the channels of one user.
func (s *Service) SendToUser(ctx context.Context, userID string, ev domain.Event) (int, error) {
	ev = s.stamp(ev)
	n, err := s.broker.SendToUser(ctx, userID, ev)
	if err != nil {
		s.log.Error("failed to send event to user", logger.Owner(userID), logger.EventType(string(ev.Type)), logger.Error(err))
		return 0, err
	}
	s.log.Info("event sent to user", logger.Owner(userID), logger.EventType(string(ev.Type)), logger.Count("reached", n))
	return n, nil
}

// Broadcast delivers ev to every channel of this instance.
func (s *Service) Broadcast(ctx context.Context, ev domain.Event) (int, error) {
	ev = s.stamp(ev)
	n, err := s.broker.Broadcast(ctx, ev)
	if err != nil {
		s.log.Error("failed to broadcast event", logger.EventType(string(ev.Type)), logger.Error(err))
		return 0, err
	}
	s.log.Info("event broadcast", logger.EventType(string(ev.Type)), logger.Count("reached", n))
	return n, nil
}

// SendTestEvent sends a diagnostic event to userID, or to everyone when
// userID is empty.
func (s *Service) SendTestEvent(ctx context.Context, userID string) (int, error) {
	ev := domain.NewEvent(domain.Test{
		Message:   TestEventMessage,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Random:    s.random(),
	})
	if userID != "" {
		return s.SendToUser(ctx, userID, ev)
	}
	return s.Broadcast(ctx, ev)
}

// ActiveConnections lists the channels held by this instance.
func (s *Service) ActiveConnections(ctx context.Context) ([]domain.Channel, error) {
	channels, err := s.broker.ListActive(ctx)
	if err != nil {
		s.log.Error("failed to list active connections", logger.Error(err))
		return nil, err
	}
	s.log.Debug("retrieved active connections", logger.Count("connections", len(channels)))
	return channels, nil
}

// ConnectionCount returns the number of channels held by this instance.
func (s *Service) ConnectionCount(ctx context.Context) (int, error) {
	channels, err := s.ActiveConnections(ctx)
	if err != nil {
		return 0, err
	}
	return len(channels), nil
}

// Connections builds the producer-facing snapshot of active channels.
func (s *Service) Connections(ctx context.Context) (domain.ConnectionsSnapshot, error) {
	channels, err := s.ActiveConnections(ctx)
	if err != nil {
		return domain.ConnectionsSnapshot{}, err
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return domain.ConnectionsSnapshot{
		Connections: channels,
		Count:       len(channels),
		Timestamp:   s.now().UnixMilli(),
	}, nil
}

func (s *Service) stamp(ev domain.Event) domain.Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	return ev
}
