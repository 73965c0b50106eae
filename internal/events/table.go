// Path: internal/events/table.go
package events

import (
	"slices"
	"sync"
	"time"
)

type entry struct {
	handle          Handle
	owner           string
	connectedAt     time.Time
	lastHeartbeatAt time.Time
}

// channelTable maps channel IDs to locally owned handles.
type channelTable struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func newChannelTable() *channelTable {
	return &channelTable{entries: make(map[string]entry)}
}

func (t *channelTable) put(id string, e entry) (prev entry, replaced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, replaced = t.entries[id]
	t.entries[id] = e
	return prev, replaced
}

func (t *channelTable) get(id string) (entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	return e, ok
}

// remove deletes the entry; only one of several concurrent callers gets ok.
func (t *channelTable) remove(id string) (entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// touch moves lastHeartbeatAt forward, never back.
func (t *channelTable) touch(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || !at.After(e.lastHeartbeatAt) {
		return
	}
	e.lastHeartbeatAt = at
	t.entries[id] = e
}

// ids returns a sorted snapshot of the key set.
func (t *channelTable) ids() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (t *channelTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
