package sse_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-broker/internal/sse"
)

func TestFormat(t *testing.T) {
	t.Run("with_id", func(t *testing.T) {
		frame, err := sse.Format("c1-1", "test", map[string]int{"n": 1})
		require.NoError(t, err)
		assert.Equal(t, "id: c1-1\nevent: test\ndata: {\"n\":1}\n\n", string(frame))
	})

	t.Run("without_id", func(t *testing.T) {
		frame, err := sse.Format("", "heartbeat", nil)
		require.NoError(t, err)
		assert.Equal(t, "event: heartbeat\ndata: null\n\n", string(frame))
	})

	t.Run("empty_type", func(t *testing.T) {
		_, err := sse.Format("x", "", 1)
		assert.ErrorIs(t, err, sse.ErrEmptyEventType)
	})

	t.Run("line_break_in_fields", func(t *testing.T) {
		_, err := sse.Format("a\nb", "test", 1)
		assert.ErrorIs(t, err, sse.ErrInvalidField)

		_, err = sse.Format("", "te\rst", 1)
		assert.ErrorIs(t, err, sse.ErrInvalidField)
	})

	t.Run("encode_error", func(t *testing.T) {
		frame, err := sse.Format("", "test", map[string]any{"ch": make(chan int)})
		require.Error(t, err)
		assert.Nil(t, frame)
	})

	t.Run("multiline_strings_stay_on_one_line", func(t *testing.T) {
		frame, err := sse.Format("", "test", "line1\nline2")
		require.NoError(t, err)
		assert.Equal(t, 3, strings.Count(string(frame), "\n"))
		assert.Contains(t, string(frame), `data: "line1\nline2"`)
	})
}

func TestComment(t *testing.T) {
	assert.Equal(t, ": keepalive\n\n", string(sse.Comment("keepalive")))
	assert.Equal(t, ": a b\n\n", string(sse.Comment("a\nb")))
}

func TestParse(t *testing.T) {
	stream := ": connected\n\n" +
		"id: 1\nevent: first\ndata: {\"a\":1}\n\n" +
		"event: second\r\ndata: line1\r\ndata: line2\r\n\r\n" +
		"event: dangling\ndata: lost\n"

	var got []sse.Message
	err := sse.Parse(strings.NewReader(stream), 0, func(m sse.Message) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "first", got[0].Event)
	assert.JSONEq(t, `{"a":1}`, string(got[0].Data))

	assert.Equal(t, "", got[1].ID)
	assert.Equal(t, "second", got[1].Event)
	assert.Equal(t, "line1\nline2", string(got[1].Data))
}

func TestParse_Stop(t *testing.T) {
	stream := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"

	calls := 0
	err := sse.Parse(strings.NewReader(stream), 0, func(sse.Message) error {
		calls++
		return sse.ErrStop
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = sse.Parse(strings.NewReader(stream), 0, func(sse.Message) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestFormatParseRoundTrip(t *testing.T) {
	type payload struct {
		Message string            `json:"message"`
		Count   int               `json:"count"`
		Tags    []string          `json:"tags"`
		Meta    map[string]string `json:"meta"`
	}
	in := payload{
		Message: "multi\nline \"quoted\" ünïcode",
		Count:   42,
		Tags:    []string{"a", "b"},
		Meta:    map[string]string{"k": "v"},
	}

	var stream bytes.Buffer
	for _, typ := range []string{"notification", "custom"} {
		frame, err := sse.Format("id-"+typ, typ, in)
		require.NoError(t, err)
		stream.Write(frame)
	}

	var got []sse.Message
	require.NoError(t, sse.Parse(&stream, 0, func(m sse.Message) error {
		got = append(got, m)
		return nil
	}))
	require.Len(t, got, 2)

	for i, typ := range []string{"notification", "custom"} {
		assert.Equal(t, typ, got[i].Event)
		assert.Equal(t, "id-"+typ, got[i].ID)

		var out payload
		require.NoError(t, json.Unmarshal(got[i].Data, &out))
		assert.Equal(t, in, out)
	}
}
