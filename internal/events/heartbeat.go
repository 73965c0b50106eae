// Path: internal/events/heartbeat.go
package events

import (
	"context"
	"errors"
	"time"

	"push-broker/internal/domain"
	"push-broker/internal/logger"
	"push-broker/internal/metrics"
)

// Start runs the heartbeat loop in the background until Stop is called or
// ctx is cancelled.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel, b.done = cancel, done

	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	return nil
}

// Stop cancels the heartbeat loop and waits for it to return. It is a no-op
// when the loop is not running.
func (b *Broker) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run is the blocking form of the heartbeat loop.
func (b *Broker) Run(ctx context.Context) {
	interval := b.cfg.HeartbeatInterval()
	b.log.Info("heartbeat loop started", logger.Duration(interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.tick(ctx)
		case <-ctx.Done():
			b.log.Info("heartbeat loop stopped")
			return
		}
	}
}

// tick probes every local channel once. Channels silent for longer than the
// staleness threshold are evicted without a probe. A failure on one channel
// never stops the rest of the tick.
func (b *Broker) tick(ctx context.Context) {
	now := b.now()
	threshold := b.cfg.StalenessThreshold()

	for _, id := range b.table.ids() {
		if ctx.Err() != nil {
			return
		}
		e, ok := b.table.get(id)
		if !ok {
			continue
		}

		if now.Sub(e.lastHeartbeatAt) > threshold {
			b.log.Warn("removing stale channel",
				logger.ChannelID(id),
				logger.Duration(now.Sub(e.lastHeartbeatAt)),
			)
			b.logCleanup(b.unregister(ctx, id, metrics.ReasonStale))
			continue
		}

		if !b.probe(ctx, id, e, now) {
			b.log.Warn("heartbeat failed, channel removed", logger.ChannelID(id))
		}
	}

	if n := b.ticks.Add(1); n%uint64(b.cfg.OrphanSweepEvery) == 0 {
		b.sweep(ctx)
	}
}

// probe sends a heartbeat and, when it is accepted, rewrites the registry
// record, the liveness marker and the user index entry so that entries lost
// to an earlier store failure or a peer's orphan sweep are restored.
func (b *Broker) probe(ctx context.Context, id string, e entry, now time.Time) bool {
	p, err := b.prepare(domain.Event{
		Type:      domain.EventHeartbeat,
		Data:      domain.Heartbeat{Timestamp: now.UnixMilli()},
		Timestamp: now,
	})
	if err != nil {
		b.log.Error("failed to prepare heartbeat", logger.Error(err))
		return true
	}
	if !b.deliver(ctx, id, e.handle, p) {
		return false
	}
	b.table.touch(id, now)

	// Do not resurrect a record that a concurrent Unregister just removed.
	if cur, ok := b.table.get(id); !ok || cur.handle != e.handle {
		return true
	}
	rec := domain.Channel{
		ID:              id,
		Owner:           e.owner,
		ConnectedAt:     e.connectedAt.UnixMilli(),
		LastHeartbeatAt: now.UnixMilli(),
	}
	if err := errors.Join(
		b.writeRecord(ctx, rec),
		b.setMarker(ctx, id),
		b.indexOwner(ctx, e.owner, id),
	); err != nil {
		b.log.Warn("failed to refresh channel record", logger.ChannelID(id), logger.Error(err))
	}
	return true
}

// sweep reports the local channel count and reaps orphaned records.
func (b *Broker) sweep(ctx context.Context) {
	b.log.Info("active channels", logger.Count("local", b.table.len()))

	reaped, err := b.ReapOrphans(ctx)
	if err != nil {
		b.log.Warn("orphan sweep incomplete", logger.Count("reaped", reaped), logger.Error(err))
		return
	}
	if reaped > 0 {
		b.log.Info("reaped orphaned channels", logger.Count("reaped", reaped))
	}
}
