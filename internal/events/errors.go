// Path: internal/events/errors.go
package events

import "errors"

var (
	ErrEmptyChannelID   = errors.New("channel id must not be empty")
	ErrInvalidChannelID = errors.New("channel id contains reserved characters")
	ErrStore            = errors.New("registry store operation failed")
	ErrMalformedRecord  = errors.New("malformed channel record")
	ErrAlreadyStarted   = errors.New("heartbeat loop already started")
	ErrHandleClosed     = errors.New("channel handle already closed")
	ErrHandleFull       = errors.New("channel handle buffer is full")
	ErrBrokerClosed     = errors.New("broker is shut down")
)
