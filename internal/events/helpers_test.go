package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"push-broker/internal/config"
	"push-broker/internal/domain"
	"push-broker/internal/sse"
	"push-broker/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeHandle records frames and can be told to reject writes.
type fakeHandle struct {
	mu     sync.Mutex
	frames [][]byte
	broken bool
	closes int
}

func (h *fakeHandle) Write(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.broken || h.closes > 0 {
		return ErrHandleClosed
	}
	h.frames = append(h.frames, frame)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	if h.closes > 1 {
		return ErrHandleClosed
	}
	return nil
}

func (h *fakeHandle) breakWrites() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broken = true
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func (h *fakeHandle) messages(t *testing.T) []sse.Message {
	t.Helper()
	h.mu.Lock()
	stream := bytes.Join(h.frames, nil)
	h.mu.Unlock()

	var msgs []sse.Message
	require.NoError(t, sse.Parse(bytes.NewReader(stream), 0, func(m sse.Message) error {
		msgs = append(msgs, m)
		return nil
	}))
	return msgs
}

// mockStore is a RegistryStore with programmable failures.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) HSet(ctx context.Context, key, field, value string) error {
	return m.Called(ctx, key, field, value).Error(0)
}

func (m *mockStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	args := m.Called(ctx, key, field)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.(map[string]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) HDel(ctx context.Context, key, field string) error {
	return m.Called(ctx, key, field).Error(0)
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStore) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	return m.Called(ctx, key, ttl).Error(0)
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// newTestBroker returns a broker over an in-memory store sharing a fake clock.
func newTestBroker(t *testing.T, opts ...func(*config.BrokerConfig)) (*Broker, *storage.MemoryRegistry, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := storage.NewMemoryRegistry(storage.WithMemoryClock(clock.Now))

	cfg := config.DefaultBrokerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	b, err := NewBroker(store, cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return b, store, clock
}

func testEvent() domain.Event {
	return domain.NewEvent(domain.Custom{Kind: domain.EventTest, Data: json.RawMessage(`{}`)})
}

func notification(title string) domain.Event {
	return domain.NewEvent(domain.Notification{Title: title, Level: domain.LevelInfo})
}

func readChannel(t *testing.T, store *storage.MemoryRegistry, id string) (domain.Channel, bool) {
	t.Helper()
	raw, ok, err := store.HGet(context.Background(), "sse:connections:"+id, "data")
	require.NoError(t, err)
	if !ok {
		return domain.Channel{}, false
	}
	var ch domain.Channel
	require.NoError(t, json.Unmarshal([]byte(raw), &ch))
	return ch, true
}

func userIndex(t *testing.T, store *storage.MemoryRegistry, owner string) map[string]string {
	t.Helper()
	idx, err := store.HGetAll(context.Background(), "sse:users:"+owner)
	require.NoError(t, err)
	return idx
}
