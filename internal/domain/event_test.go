package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-broker/internal/domain"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     domain.EventType
		raw     string
		want    domain.Payload
		wantErr error
	}{
		{
			name: "heartbeat",
			typ:  domain.EventHeartbeat,
			raw:  `{"timestamp":1700000000000}`,
			want: domain.Heartbeat{Timestamp: 1700000000000},
		},
		{
			name:    "heartbeat without timestamp",
			typ:     domain.EventHeartbeat,
			raw:     `{}`,
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name: "notification defaults to info",
			typ:  domain.EventNotification,
			raw:  `{"title":"Deploy finished"}`,
			want: domain.Notification{Title: "Deploy finished", Level: domain.LevelInfo},
		},
		{
			name:    "notification with unknown level",
			typ:     domain.EventNotification,
			raw:     `{"title":"x","level":"loud"}`,
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "notification with unknown field",
			typ:     domain.EventNotification,
			raw:     `{"title":"x","colour":"red"}`,
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name: "test with null data",
			typ:  domain.EventTest,
			raw:  `null`,
			want: domain.Test{},
		},
		{
			name: "unknown type becomes custom",
			typ:  "order.shipped",
			raw:  `{"orderId":7}`,
			want: domain.Custom{Kind: "order.shipped", Data: json.RawMessage(`{"orderId":7}`)},
		},
		{
			name:    "empty type",
			typ:     "",
			raw:     `{}`,
			wantErr: domain.ErrEmptyEventType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.DecodePayload(tt.typ, json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.typ, got.EventType())
		})
	}
}

func TestCustom_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(domain.Custom{Kind: domain.EventCustom, Data: json.RawMessage(`{"a":[1,2]}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2]}`, string(b))

	b, err = json.Marshal(domain.Custom{Kind: domain.EventCustom})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestEvent_Validate(t *testing.T) {
	assert.NoError(t, domain.NewEvent(domain.Heartbeat{Timestamp: 1}).Validate())

	mismatched := domain.Event{Type: domain.EventTest, Data: domain.Heartbeat{Timestamp: 1}}
	assert.ErrorIs(t, mismatched.Validate(), domain.ErrInvalidPayload)

	assert.ErrorIs(t, domain.Event{}.Validate(), domain.ErrEmptyEventType)
	assert.ErrorIs(t, domain.Event{Type: domain.EventTest}.Validate(), domain.ErrInvalidPayload)
}

func TestSendEventInput(t *testing.T) {
	var in domain.SendEventInput
	require.NoError(t, json.Unmarshal([]byte(`{"type":"notification","data":{"title":"hi"},"broadcast":"true"}`), &in))
	assert.True(t, bool(in.Broadcast))

	ev, err := in.Event()
	require.NoError(t, err)
	assert.Equal(t, domain.EventNotification, ev.Type)
	assert.Equal(t, domain.Notification{Title: "hi", Level: domain.LevelInfo}, ev.Data)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"test","broadcast":false,"userId":"u1"}`), &in))
	assert.False(t, bool(in.Broadcast))
	assert.Equal(t, "u1", in.UserID)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"test","broadcast":"maybe"}`), &in))
}
