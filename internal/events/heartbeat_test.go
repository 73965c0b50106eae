package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"push-broker/internal/config"
	"push-broker/internal/storage"
)

// indexOutageStore fails user index writes while down is set.
type indexOutageStore struct {
	*storage.MemoryRegistry
	down atomic.Bool
}

func (s *indexOutageStore) HSet(ctx context.Context, key, field, value string) error {
	if s.down.Load() && strings.Contains(key, ":users:") {
		return errors.New("index unavailable")
	}
	return s.MemoryRegistry.HSet(ctx, key, field, value)
}

func TestBroker_Tick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("stale channel is evicted without a probe", func(t *testing.T) {
		t.Parallel()
		b, store, clock := newTestBroker(t, func(c *config.BrokerConfig) {
			c.HeartbeatIntervalMs = 30000
		})
		h := &fakeHandle{}
		require.NoError(t, b.Register(ctx, "c1", "u1", h))

		clock.Advance(100 * time.Second)
		b.tick(ctx)

		assert.Empty(t, h.messages(t))
		assert.Equal(t, 1, h.closeCount())
		assert.Equal(t, 0, b.Count())
		_, ok := readChannel(t, store, "c1")
		assert.False(t, ok)
		assert.Empty(t, userIndex(t, store, "u1"))
	})

	t.Run("live channel gets a heartbeat and a fresh record", func(t *testing.T) {
		t.Parallel()
		b, store, clock := newTestBroker(t)
		h := &fakeHandle{}
		require.NoError(t, b.Register(ctx, "c1", "", h))
		connectedAt := clock.Now().UnixMilli()

		clock.Advance(30 * time.Second)
		b.tick(ctx)

		msgs := h.messages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, "heartbeat", msgs[0].Event)
		var payload struct {
			Timestamp int64 `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
		assert.Equal(t, clock.Now().UnixMilli(), payload.Timestamp)

		ch, ok := readChannel(t, store, "c1")
		require.True(t, ok)
		assert.Equal(t, connectedAt, ch.ConnectedAt)
		assert.Equal(t, clock.Now().UnixMilli(), ch.LastHeartbeatAt)
	})

	t.Run("heartbeats keep a channel from going stale", func(t *testing.T) {
		t.Parallel()
		b, _, clock := newTestBroker(t)
		require.NoError(t, b.Register(ctx, "c1", "", &fakeHandle{}))

		for range 10 {
			clock.Advance(30 * time.Second)
			b.tick(ctx)
		}
		assert.Equal(t, 1, b.Count())
	})

	t.Run("heartbeat refreshes the liveness marker", func(t *testing.T) {
		t.Parallel()
		b, store, clock := newTestBroker(t, func(c *config.BrokerConfig) {
			c.KeyTTLSeconds = 60
		})
		require.NoError(t, b.Register(ctx, "c1", "", &fakeHandle{}))

		clock.Advance(40 * time.Second)
		b.tick(ctx)
		clock.Advance(40 * time.Second)

		alive, err := store.Exists(ctx, "sse:connections:c1:ttl")
		require.NoError(t, err)
		assert.True(t, alive)
	})

	t.Run("failed heartbeat removes only that channel", func(t *testing.T) {
		t.Parallel()
		b, _, clock := newTestBroker(t)
		bad, good := &fakeHandle{}, &fakeHandle{}
		require.NoError(t, b.Register(ctx, "bad", "", bad))
		require.NoError(t, b.Register(ctx, "good", "", good))
		bad.breakWrites()

		clock.Advance(30 * time.Second)
		b.tick(ctx)

		assert.Equal(t, 1, b.Count())
		assert.Equal(t, 1, bad.closeCount())
		assert.Len(t, good.messages(t), 1)
	})

	t.Run("orphans are swept every n ticks", func(t *testing.T) {
		t.Parallel()
		b, store, clock := newTestBroker(t, func(c *config.BrokerConfig) {
			c.OrphanSweepEvery = 2
			c.KeyTTLSeconds = 60
		})
		require.NoError(t, b.Register(ctx, "orphan", "", nil))
		clock.Advance(61 * time.Second)

		b.tick(ctx)
		_, ok := readChannel(t, store, "orphan")
		assert.True(t, ok)

		b.tick(ctx)
		_, ok = readChannel(t, store, "orphan")
		assert.False(t, ok)
	})

	t.Run("heartbeat restores a lost user index entry", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := &indexOutageStore{MemoryRegistry: storage.NewMemoryRegistry(storage.WithMemoryClock(clock.Now))}
		b, err := NewBroker(store, config.DefaultBrokerConfig(), WithClock(clock.Now))
		require.NoError(t, err)

		store.down.Store(true)
		h := &fakeHandle{}
		require.ErrorIs(t, b.Register(ctx, "c1", "u1", h), ErrStore)
		store.down.Store(false)

		n, err := b.SendToUser(ctx, "u1", notification("before"))
		require.NoError(t, err)
		assert.Zero(t, n)

		clock.Advance(30 * time.Second)
		b.tick(ctx)

		n, err = b.SendToUser(ctx, "u1", notification("after"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, map[string]string{"c1": "1"}, userIndex(t, store.MemoryRegistry, "u1"))
	})

	t.Run("heartbeat restores a reaped record", func(t *testing.T) {
		t.Parallel()
		b, store, clock := newTestBroker(t)
		require.NoError(t, b.Register(ctx, "c1", "u1", &fakeHandle{}))
		require.NoError(t, store.Del(ctx, "sse:connections:c1"))
		require.NoError(t, store.HDel(ctx, "sse:users:u1", "c1"))

		clock.Advance(30 * time.Second)
		b.tick(ctx)

		_, ok := readChannel(t, store, "c1")
		assert.True(t, ok)
		assert.Contains(t, userIndex(t, store, "u1"), "c1")
	})

	t.Run("store failure during refresh keeps channels and the tick going", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		store := new(mockStore)
		store.On("HSet", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
		store.On("SetMarker", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
		store.On("HSet", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("registry down"))
		store.On("SetMarker", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("registry down"))

		b, err := NewBroker(store, config.DefaultBrokerConfig(), WithClock(clock.Now))
		require.NoError(t, err)
		first, second := &fakeHandle{}, &fakeHandle{}
		require.NoError(t, b.Register(ctx, "c1", "", first))
		require.NoError(t, b.Register(ctx, "c2", "", second))

		clock.Advance(30 * time.Second)
		b.tick(ctx)

		assert.Equal(t, 2, b.Count())
		assert.Len(t, first.messages(t), 1)
		assert.Len(t, second.messages(t), 1)
		store.AssertNumberOfCalls(t, "HSet", 4)
		store.AssertNumberOfCalls(t, "SetMarker", 4)
	})

	t.Run("slow store is cut off by the store timeout", func(t *testing.T) {
		t.Parallel()
		clock := newTestClock()
		block := func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}
		store := new(mockStore)
		store.On("HSet", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(4)
		store.On("SetMarker", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
		store.On("HSet", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(block).Return(context.DeadlineExceeded)
		store.On("SetMarker", mock.Anything, mock.Anything, mock.Anything).Run(block).Return(context.DeadlineExceeded)

		cfg := config.DefaultBrokerConfig()
		cfg.StoreTimeoutMs = 20
		b, err := NewBroker(store, cfg, WithClock(clock.Now))
		require.NoError(t, err)
		first, second := &fakeHandle{}, &fakeHandle{}
		require.NoError(t, b.Register(ctx, "c1", "u1", first))
		require.NoError(t, b.Register(ctx, "c2", "", second))

		clock.Advance(30 * time.Second)
		start := time.Now()
		b.tick(ctx)

		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, 2, b.Count())
		assert.Len(t, first.messages(t), 1)
		assert.Len(t, second.messages(t), 1)
	})
}

func TestBroker_StartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _, _ := newTestBroker(t)

	require.NoError(t, b.Start(ctx))
	assert.ErrorIs(t, b.Start(ctx), ErrAlreadyStarted)

	b.Stop()
	b.Stop()

	require.NoError(t, b.Start(ctx))
	b.Stop()
}

func TestBroker_RunTicks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _, _ := newTestBroker(t, func(c *config.BrokerConfig) {
		c.HeartbeatIntervalMs = 5
		c.StalenessMultiplier = 1000
	})
	h := NewQueueHandle(16)
	require.NoError(t, b.Register(ctx, "c1", "", h))
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	select {
	case frame := <-h.Frames():
		assert.Contains(t, string(frame), "event: heartbeat\n")
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat within 2s")
	}
}
