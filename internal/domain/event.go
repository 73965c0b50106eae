// Path: internal/domain/event.go
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType discriminates the payload variant of an Event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventHeartbeat    EventType = "heartbeat"
	EventTest         EventType = "test"
	EventCustom       EventType = "custom"
	EventNotification EventType = "notification"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

var (
	ErrEmptyEventType = errors.New("event type must not be empty")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Payload is one variant of the event data union. The variant decides the
// wire event type and validates its own fields.
type Payload interface {
	EventType() EventType
	Validate() error
}

// Event is a unit of pushed data. It is immutable once sent.
type Event struct {
	Type      EventType
	Data      Payload
	Timestamp time.Time
	ID        string
}

// NewEvent wraps a payload into an event of the payload's type.
func NewEvent(p Payload) Event {
	return Event{Type: p.EventType(), Data: p}
}

// Validate checks the discriminator against the payload and the payload itself.
func (e Event) Validate() error {
	if e.Type == "" {
		return ErrEmptyEventType
	}
	if e.Data == nil {
		return fmt.Errorf("%w: %s event has no payload", ErrInvalidPayload, e.Type)
	}
	if e.Data.EventType() != e.Type {
		return fmt.Errorf("%w: %s payload under %s event", ErrInvalidPayload, e.Data.EventType(), e.Type)
	}
	return e.Data.Validate()
}

// Connected is sent once when a channel opens.
type Connected struct {
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
	Message      string `json:"message"`
}

func (Connected) EventType() EventType { return EventConnected }

func (p Connected) Validate() error {
	if p.ConnectionID == "" {
		return fmt.Errorf("%w: connectionId is required", ErrInvalidPayload)
	}
	return nil
}

// Heartbeat probes channel liveness.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

func (Heartbeat) EventType() EventType { return EventHeartbeat }

func (p Heartbeat) Validate() error {
	if p.Timestamp <= 0 {
		return fmt.Errorf("%w: heartbeat timestamp must be positive", ErrInvalidPayload)
	}
	return nil
}

// Test is a diagnostic event.
type Test struct {
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	Random    float64 `json:"random"`
}

func (Test) EventType() EventType { return EventTest }

func (Test) Validate() error { return nil }

// Notification is a user-facing message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Level string `json:"level"`
}

func (Notification) EventType() EventType { return EventNotification }

func (p Notification) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("%w: notification title is required", ErrInvalidPayload)
	}
	switch p.Level {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return nil
	default:
		return fmt.Errorf("%w: unknown notification level %q", ErrInvalidPayload, p.Level)
	}
}

// Custom carries opaque JSON under any type that has no dedicated variant,
// including "custom" itself.
type Custom struct {
	Kind EventType
	Data json.RawMessage
}

func (p Custom) EventType() EventType { return p.Kind }

func (p Custom) Validate() error {
	if p.Kind == "" {
		return ErrEmptyEventType
	}
	if len(p.Data) > 0 && !json.Valid(p.Data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrInvalidPayload)
	}
	return nil
}

// MarshalJSON emits the raw data, or null when there is none.
func (p Custom) MarshalJSON() ([]byte, error) {
	if len(p.Data) == 0 {
		return []byte("null"), nil
	}
	return p.Data, nil
}

// DecodePayload selects the variant for t and decodes raw into it. Unknown
// types become Custom. The result is validated.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	if t == "" {
		return nil, ErrEmptyEventType
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case EventConnected:
		var v Connected
		err = decodeStrict(raw, &v)
		p = v
	case EventHeartbeat:
		var v Heartbeat
		err = decodeStrict(raw, &v)
		p = v
	case EventTest:
		var v Test
		err = decodeStrict(raw, &v)
		p = v
	case EventNotification:
		v := Notification{Level: LevelInfo}
		err = decodeStrict(raw, &v)
		p = v
	default:
		p = Custom{Kind: t, Data: append(json.RawMessage(nil), raw...)}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
