// Path: internal/domain/models.go
package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// --- Custom Type for the "broadcast" field ---

// FlexibleBool is a custom boolean type that can be unmarshaled from
// a JSON boolean (true/false) or a JSON string ("true"/"false").
type FlexibleBool bool

// UnmarshalJSON implements the json.Unmarshaler interface for FlexibleBool.
func (fb *FlexibleBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*fb = FlexibleBool(b)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsedBool, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*fb = FlexibleBool(parsedBool)
	return nil
}

// Channel is the serializable bookkeeping of one open push channel. The live
// output handle is never part of it.
type Channel struct {
	ID              string `json:"id"`
	Owner           string `json:"userId,omitempty"`
	ConnectedAt     int64  `json:"connectedAt"`
	LastHeartbeatAt int64  `json:"lastHeartbeat"`
}

// ConnectedTime returns ConnectedAt as a time.
func (c Channel) ConnectedTime() time.Time {
	return time.UnixMilli(c.ConnectedAt)
}

// LastHeartbeatTime returns LastHeartbeatAt as a time.
func (c Channel) LastHeartbeatTime() time.Time {
	return time.UnixMilli(c.LastHeartbeatAt)
}

// SendEventInput is what producers submit to push an event.
// Broadcast takes precedence over UserID; with neither set nothing is sent.
type SendEventInput struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	UserID    string          `json:"userId,omitempty"`
	Broadcast FlexibleBool    `json:"broadcast,omitempty"`
}

// Event builds the typed event described by the input.
func (in SendEventInput) Event() (Event, error) {
	payload, err := DecodePayload(EventType(in.Type), in.Data)
	if err != nil {
		return Event{}, err
	}
	return NewEvent(payload), nil
}

// SendResult reports how many channels an event reached.
type SendResult struct {
	Success            bool   `json:"success"`
	ConnectionsReached int    `json:"connectionsReached"`
	Message            string `json:"message"`
}

// ConnectionsSnapshot is the producer-facing view of active channels.
type ConnectionsSnapshot struct {
	Connections []Channel `json:"connections"`
	Count       int       `json:"count"`
	Timestamp   int64     `json:"timestamp"`
}
