// Path: internal/logger/attr.go
package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers return an empty Attr for empty input so that callers can
// pass them unconditionally; slog drops empty attributes.

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// ChannelID creates an attribute for a push channel identifier.
func ChannelID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("channel_id", id)
}

// Owner creates an attribute for the user owning a channel.
func Owner(owner string) slog.Attr {
	if owner == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", owner)
}

// EventType creates an attribute for the event discriminator.
func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Method creates an attribute for HTTP methods.
func Method(method string) slog.Attr {
	return slog.String("method", method)
}

// Path creates an attribute for URL paths.
func Path(path string) slog.Attr {
	return slog.String("path", path)
}
