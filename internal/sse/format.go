// Path: internal/sse/format.go
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

var (
	ErrEmptyEventType = errors.New("sse: event type must not be empty")
	ErrInvalidField   = errors.New("sse: field contains a line break")
)

// Format renders one event in wire framing:
//
//	id: <id>        (only when id is non-empty)
//	event: <type>
//	data: <json>
//	<blank line>
//
// data is always JSON encoded; encoding errors are returned and nothing is
// rendered.
func Format(id, eventType string, data any) ([]byte, error) {
	if eventType == "" {
		return nil, ErrEmptyEventType
	}
	if hasLineBreak(eventType) || hasLineBreak(id) {
		return nil, ErrInvalidField
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("sse: failed to encode data for %q: %w", eventType, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(id) + len(eventType) + len(payload) + 24)
	if id != "" {
		buf.WriteString("id: ")
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	buf.WriteString("event: ")
	buf.WriteString(eventType)
	buf.WriteByte('\n')
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// Comment renders a comment line, ignored by clients. Used for keep-alives.
func Comment(text string) []byte {
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	return []byte(": " + text + "\n\n")
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
