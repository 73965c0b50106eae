// Path: internal/sse/parse.go
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrStop can be returned by a Parse callback to end parsing without error.
var ErrStop = errors.New("sse: stop parsing")

// DefaultMaxLine bounds a single line read by Parse.
const DefaultMaxLine = 1 << 20

// Message is one dispatched event as seen by a client.
type Message struct {
	ID    string
	Event string
	Data  []byte
}

var (
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
	idPrefix    = []byte("id:")
	bom         = []byte{0xEF, 0xBB, 0xBF}
)

// Parse reads an event stream and calls fn for every complete event.
// Comment lines and unknown fields are skipped; a trailing event without its
// terminating blank line is discarded.
func Parse(r io.Reader, maxLine int, fn func(Message) error) error {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLines)
	scanner.Buffer(make([]byte, 0, 512), maxLine)

	var (
		msg     Message
		dataBuf bytes.Buffer
		hasData bool
	)
	for scanner.Scan() {
		line := bytes.TrimPrefix(scanner.Bytes(), bom)

		switch {
		case len(line) == 0:
			if hasData {
				msg.Data = bytes.TrimSuffix(dataBuf.Bytes(), []byte{'\n'})
				msg.Data = append([]byte(nil), msg.Data...)
				if err := fn(msg); err != nil {
					if errors.Is(err, ErrStop) {
						return nil
					}
					return err
				}
			}
			msg = Message{}
			dataBuf.Reset()
			hasData = false

		case line[0] == ':':
			// comment

		case bytes.HasPrefix(line, dataPrefix):
			dataBuf.Write(trimSpace(line[len(dataPrefix):]))
			dataBuf.WriteByte('\n')
			hasData = true

		case bytes.HasPrefix(line, eventPrefix):
			msg.Event = string(trimSpace(line[len(eventPrefix):]))

		case bytes.HasPrefix(line, idPrefix):
			msg.ID = string(trimSpace(line[len(idPrefix):]))
		}
	}
	return scanner.Err()
}

func trimSpace(b []byte) []byte {
	if len(b) > 0 && b[0] == ' ' {
		return b[1:]
	}
	return b
}

// scanLines accepts LF, CR LF and a lone CR as line terminators.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	i := bytes.IndexByte(data, '\n')
	j := bytes.IndexByte(data, '\r')

	switch {
	case i >= 0 && (j < 0 || i < j):
		return i + 1, data[:i], nil
	case j >= 0:
		if j+1 < len(data) {
			if data[j+1] == '\n' {
				return j + 2, data[:j], nil
			}
			return j + 1, data[:j], nil
		}
		if atEOF {
			return j + 1, data[:j], nil
		}
		// CR at the end of the buffer may be followed by LF.
		return 0, nil, nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
