// Path: internal/events/broker.go
package events

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"push-broker/internal/config"
	"push-broker/internal/domain"
	"push-broker/internal/logger"
	"push-broker/internal/metrics"
	"push-broker/internal/sse"
)

// Broker tracks the push channels owned by this process, mirrors them into
// the shared registry store and fans events out to them.
type Broker struct {
	store   RegistryStore
	cfg     config.BrokerConfig
	keys    keyspace
	table   *channelTable
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex // guards the heartbeat lifecycle
	cancel context.CancelFunc
	done   chan struct{}
	ticks  atomic.Uint64
	closed atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics enables Prometheus reporting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroker creates a broker on top of store. It starts nothing; call Start
// to run the heartbeat loop.
func NewBroker(store RegistryStore, cfg config.BrokerConfig, opts ...Option) (*Broker, error) {
	if store == nil {
		return nil, errors.New("events: registry store is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = config.DefaultBrokerConfig().KeyPrefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Broker{
		store: store,
		cfg:   cfg,
		keys:  keyspace{prefix: cfg.KeyPrefix},
		table: newChannelTable(),
		log:   logger.Discard(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(logger.Component("broker"))
	return b, nil
}

// Register records a channel. With a non-nil handle the channel is owned by
// this process and enters the channel table; the registry record, its
// liveness marker and the user index entry are written in every case.
// Registering an ID again overwrites its bookkeeping. Once Shutdown has
// begun, local channels are refused with ErrBrokerClosed.
func (b *Broker) Register(ctx context.Context, id, owner string, h Handle) error {
	if err := validateChannelID(id); err != nil {
		return err
	}
	now := b.now()

	if h != nil && b.closed.Load() {
		return ErrBrokerClosed
	}

	var errs []error
	if h != nil {
		prev, replaced := b.table.put(id, entry{
			handle:          h,
			owner:           owner,
			connectedAt:     now,
			lastHeartbeatAt: now,
		})
		b.metrics.SetActive(b.table.len())

		if replaced && prev.handle != h {
			if err := closeHandle(prev.handle); err != nil {
				b.log.Warn("failed to close replaced handle", logger.ChannelID(id), logger.Error(err))
			}
		}
		// Shutdown may have taken its snapshot between the check above and put.
		if b.closed.Load() {
			b.logCleanup(b.unregister(ctx, id, metrics.ReasonShutdown))
			return ErrBrokerClosed
		}
		if replaced && prev.owner != "" && prev.owner != owner {
			errs = append(errs, b.storeCall(ctx, "hdel", func(ctx context.Context) error {
				return b.store.HDel(ctx, b.keys.user(prev.owner), id)
			}))
		}
	}

	rec := domain.Channel{
		ID:              id,
		Owner:           owner,
		ConnectedAt:     now.UnixMilli(),
		LastHeartbeatAt: now.UnixMilli(),
	}
	errs = append(errs, b.writeRecord(ctx, rec), b.setMarker(ctx, id), b.indexOwner(ctx, owner, id))

	if err := errors.Join(errs...); err != nil {
		b.log.Error("channel registered with store errors", logger.ChannelID(id), logger.Owner(owner), logger.Error(err))
		return err
	}
	b.log.Info("channel registered", logger.ChannelID(id), logger.Owner(owner), slog.Bool("local", h != nil))
	return nil
}

// Unregister removes a channel from the table and the registry. It is safe to
// call more than once and from concurrent cleanup paths; only the first call
// closes the handle. Every step is attempted regardless of earlier failures.
func (b *Broker) Unregister(ctx context.Context, id string) CleanupResult {
	res := b.unregister(ctx, id, metrics.ReasonClosed)
	b.logCleanup(res)
	return res
}

func (b *Broker) unregister(ctx context.Context, id, reason string) CleanupResult {
	res := CleanupResult{ChannelID: id}

	e, local := b.table.remove(id)
	res.Local = local
	if local {
		res.Owner = e.owner
		res.record(StepCloseHandle, closeHandle(e.handle))
		b.metrics.SetActive(b.table.len())
		b.metrics.Evicted(reason)
	} else {
		res.skip(StepCloseHandle)
	}

	var lookupErr error
	if !local {
		// Learn the owner from the record so that orphaned index entries go too.
		rec, found, err := b.readRecord(ctx, id)
		switch {
		case err != nil && !errors.Is(err, ErrMalformedRecord):
			lookupErr = err
		case found:
			res.Owner = rec.Owner
		}
	}

	switch {
	case res.Owner != "":
		res.record(StepUserIndex, b.storeCall(ctx, "hdel", func(ctx context.Context) error {
			return b.store.HDel(ctx, b.keys.user(res.Owner), id)
		}))
	case lookupErr != nil:
		res.record(StepUserIndex, lookupErr)
	default:
		res.skip(StepUserIndex)
	}

	res.record(StepRecord, b.storeCall(ctx, "del", func(ctx context.Context) error {
		return b.store.Del(ctx, b.keys.record(id))
	}))
	res.record(StepMarker, b.storeCall(ctx, "del", func(ctx context.Context) error {
		return b.store.Del(ctx, b.keys.marker(id))
	}))
	return res
}

// Send pushes ev to one locally owned channel. A channel that is not local is
// a miss: false with no error and no registry traffic. An event that cannot
// be encoded returns an error and nothing is written. A rejected write
// unregisters the channel and returns false.
func (b *Broker) Send(ctx context.Context, id string, ev domain.Event) (bool, error) {
	e, ok := b.table.get(id)
	if !ok {
		b.log.Debug("send to unknown channel", logger.ChannelID(id))
		return false, nil
	}
	p, err := b.prepare(ev)
	if err != nil {
		return false, err
	}
	return b.deliver(ctx, id, e.handle, p), nil
}

// SendToUser pushes ev to every channel in owner's index entry and returns
// how many accepted it. Channels held by other instances count as misses.
func (b *Broker) SendToUser(ctx context.Context, owner string, ev domain.Event) (int, error) {
	if owner == "" {
		return 0, nil
	}
	p, err := b.prepare(ev)
	if err != nil {
		return 0, err
	}

	var index map[string]string
	err = b.storeCall(ctx, "hgetall", func(ctx context.Context) error {
		var err error
		index, err = b.store.HGetAll(ctx, b.keys.user(owner))
		return err
	})
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	sent := 0
	for _, id := range ids {
		if e, ok := b.table.get(id); ok && b.deliver(ctx, id, e.handle, p) {
			sent++
		}
	}
	b.log.Info("event sent to user",
		logger.Owner(owner),
		logger.EventType(string(p.typ)),
		logger.Count("delivered", sent),
		logger.Count("indexed", len(ids)),
	)
	return sent, nil
}

// Broadcast pushes ev to every locally owned channel.
func (b *Broker) Broadcast(ctx context.Context, ev domain.Event) (int, error) {
	p, err := b.prepare(ev)
	if err != nil {
		return 0, err
	}

	ids := b.table.ids()
	sent := 0
	for _, id := range ids {
		if e, ok := b.table.get(id); ok && b.deliver(ctx, id, e.handle, p) {
			sent++
		}
	}
	b.log.Info("event broadcast",
		logger.EventType(string(p.typ)),
		logger.Count("delivered", sent),
		logger.Count("local", len(ids)),
	)
	return sent, nil
}

// ListActive returns the registry records of locally owned channels. A
// channel whose record is gone or unreadable is unregistered and left out.
func (b *Broker) ListActive(ctx context.Context) ([]domain.Channel, error) {
	ids := b.table.ids()
	active := make([]domain.Channel, 0, len(ids))
	for _, id := range ids {
		rec, found, err := b.readRecord(ctx, id)
		switch {
		case errors.Is(err, ErrMalformedRecord):
			b.log.Warn("malformed channel record, removing", logger.ChannelID(id), logger.Error(err))
			b.logCleanup(b.unregister(ctx, id, metrics.ReasonMissing))
		case err != nil:
			return nil, err
		case !found:
			b.log.Warn("no registry record for local channel, removing", logger.ChannelID(id))
			b.logCleanup(b.unregister(ctx, id, metrics.ReasonMissing))
		default:
			active = append(active, rec)
		}
	}
	return active, nil
}

// ListRegistered returns every readable channel record in the registry,
// including channels owned by other instances.
func (b *Broker) ListRegistered(ctx context.Context) ([]domain.Channel, error) {
	ids, err := b.registeredIDs(ctx)
	if err != nil {
		return nil, err
	}

	channels := make([]domain.Channel, 0, len(ids))
	for _, id := range ids {
		rec, found, err := b.readRecord(ctx, id)
		switch {
		case errors.Is(err, ErrMalformedRecord):
			b.log.Warn("skipping malformed channel record", logger.ChannelID(id), logger.Error(err))
		case err != nil:
			return nil, err
		case found:
			channels = append(channels, rec)
		}
	}
	slices.SortFunc(channels, func(a, c domain.Channel) int {
		if n := cmp.Compare(a.ConnectedAt, c.ConnectedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, c.ID)
	})
	return channels, nil
}

// ReapOrphans unregisters registry records that are not owned by this process
// and whose liveness marker has expired, which is what a crashed instance
// leaves behind. It returns the number of records removed.
func (b *Broker) ReapOrphans(ctx context.Context) (int, error) {
	ids, err := b.registeredIDs(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	reaped := 0
	for _, id := range ids {
		if _, local := b.table.get(id); local {
			continue
		}
		var alive bool
		err := b.storeCall(ctx, "exists", func(ctx context.Context) error {
			var err error
			alive, err = b.store.Exists(ctx, b.keys.marker(id))
			return err
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if alive {
			continue
		}
		res := b.unregister(ctx, id, metrics.ReasonOrphan)
		b.metrics.Evicted(metrics.ReasonOrphan)
		b.logCleanup(res)
		reaped++
	}
	return reaped, errors.Join(errs...)
}

// Count returns the number of locally owned channels.
func (b *Broker) Count() int {
	return b.table.len()
}

// Shutdown stops the heartbeat loop, unregisters every local channel and
// refuses new local registrations.
func (b *Broker) Shutdown(ctx context.Context) {
	b.closed.Store(true)
	b.Stop()

	ids := b.table.ids()
	for _, id := range ids {
		b.logCleanup(b.unregister(ctx, id, metrics.ReasonShutdown))
	}
	b.log.Info("broker shut down", logger.Count("channels", len(ids)))
}

// prepared is an event validated and encoded once for any number of channels.
type prepared struct {
	typ  domain.EventType
	id   string
	at   time.Time
	data json.RawMessage
}

func (b *Broker) prepare(ev domain.Event) (prepared, error) {
	if err := ev.Validate(); err != nil {
		return prepared{}, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return prepared{}, fmt.Errorf("events: failed to encode %s payload: %w", ev.Type, err)
	}
	// Catch framing errors (line breaks in type or id) before any channel sees the event.
	if _, err := sse.Format(ev.ID, string(ev.Type), data); err != nil {
		return prepared{}, err
	}
	return prepared{typ: ev.Type, id: ev.ID, at: ev.Timestamp, data: data}, nil
}

func (p prepared) frame(channelID string) ([]byte, error) {
	id := p.id
	if id == "" {
		id = fmt.Sprintf("%s-%d", channelID, p.at.UnixMilli())
	}
	return sse.Format(id, string(p.typ), p.data)
}

// deliver writes a prepared event to h and evicts the channel on failure.
func (b *Broker) deliver(ctx context.Context, id string, h Handle, p prepared) bool {
	frame, err := p.frame(id)
	if err == nil {
		err = h.Write(frame)
	}
	if err != nil {
		b.metrics.WriteFailed(string(p.typ))
		b.log.Warn("failed to write event, removing channel",
			logger.ChannelID(id),
			logger.EventType(string(p.typ)),
			logger.Error(err),
		)
		// A concurrent Register may have replaced the handle; leave the new one alone.
		if cur, ok := b.table.get(id); ok && cur.handle != h {
			return false
		}
		b.logCleanup(b.unregister(ctx, id, metrics.ReasonWriteFailed))
		return false
	}

	b.table.touch(id, b.now())
	b.metrics.Delivered(string(p.typ))
	if p.typ != domain.EventHeartbeat {
		b.log.Debug("event sent", logger.ChannelID(id), logger.EventType(string(p.typ)))
	}
	return true
}

func (b *Broker) writeRecord(ctx context.Context, rec domain.Channel) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("events: failed to encode channel record: %w", err)
	}
	return b.storeCall(ctx, "hset", func(ctx context.Context) error {
		return b.store.HSet(ctx, b.keys.record(rec.ID), recordField, string(raw))
	})
}

// indexOwner adds id to the owner's user index. Anonymous channels have none.
func (b *Broker) indexOwner(ctx context.Context, owner, id string) error {
	if owner == "" {
		return nil
	}
	return b.storeCall(ctx, "hset", func(ctx context.Context) error {
		return b.store.HSet(ctx, b.keys.user(owner), id, "1")
	})
}

func (b *Broker) setMarker(ctx context.Context, id string) error {
	return b.storeCall(ctx, "set_marker", func(ctx context.Context) error {
		return b.store.SetMarker(ctx, b.keys.marker(id), b.cfg.KeyTTL())
	})
}

// readRecord loads the canonical record of a channel. A record that does not
// parse, or belongs to another ID, yields ErrMalformedRecord.
func (b *Broker) readRecord(ctx context.Context, id string) (domain.Channel, bool, error) {
	var (
		raw   string
		found bool
	)
	err := b.storeCall(ctx, "hget", func(ctx context.Context) error {
		var err error
		raw, found, err = b.store.HGet(ctx, b.keys.record(id), recordField)
		return err
	})
	if err != nil || !found {
		return domain.Channel{}, false, err
	}

	var rec domain.Channel
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.Channel{}, false, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, id, err)
	}
	if rec.ID != id {
		return domain.Channel{}, false, fmt.Errorf("%w: %s: record carries id %q", ErrMalformedRecord, id, rec.ID)
	}
	return rec, true, nil
}

func (b *Broker) registeredIDs(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.storeCall(ctx, "keys", func(ctx context.Context) error {
		var err error
		keys, err = b.store.Keys(ctx, b.keys.records())
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := b.keys.channelID(key); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// storeCall runs one registry operation under the configured timeout.
func (b *Broker) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StoreTimeout())
	defer cancel()

	if err := fn(ctx); err != nil {
		b.metrics.StoreError(op)
		return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
	}
	return nil
}

func (b *Broker) logCleanup(res CleanupResult) {
	attrs := []any{
		logger.ChannelID(res.ChannelID),
		logger.Owner(res.Owner),
		slog.Bool("local", res.Local),
	}
	if err := res.Err(); err != nil {
		b.log.Warn("channel removed with cleanup errors", append(attrs, logger.Error(err))...)
		return
	}
	b.log.Info("channel removed", attrs...)
}

// closeHandle treats an already closed handle as success.
func closeHandle(h Handle) error {
	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil && !errors.Is(err, ErrHandleClosed) {
		return err
	}
	return nil
}

func validateChannelID(id string) error {
	if id == "" {
		return ErrEmptyChannelID
	}
	if strings.ContainsAny(id, ":.$ \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidChannelID, id)
	}
	return nil
}
