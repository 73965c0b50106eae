// Path: internal/events/store.go
package events

import (
	"context"
	"strings"
	"time"
)

// RegistryStore is the shared key-value store every process instance can
// reach. Implementations live in internal/storage. Last write wins per key;
// no operation spans more than one key.
type RegistryStore interface {
	// HSet writes one field of the hash stored at key.
	HSet(ctx context.Context, key, field, value string) error
	// HGet reads one field; found is false when the key or field is absent.
	HGet(ctx context.Context, key, field string) (value string, found bool, err error)
	// HGetAll reads every field of a hash. An absent key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HDel removes one field of a hash.
	HDel(ctx context.Context, key, field string) error
	// Del removes a key of any kind.
	Del(ctx context.Context, key string) error
	// SetMarker sets a bare key that expires after ttl.
	SetMarker(ctx context.Context, key string, ttl time.Duration) error
	// Exists reports whether a key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)
	// Keys enumerates keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

const (
	recordField  = "data"
	markerSuffix = ":ttl"
)

// keyspace builds registry keys:
//
//	<prefix>:connections:<id>      hash, field "data" = JSON record
//	<prefix>:connections:<id>:ttl  expiring liveness marker
//	<prefix>:users:<owner>         hash of channel IDs
type keyspace struct {
	prefix string
}

func (k keyspace) records() string {
	return k.prefix + ":connections:"
}

func (k keyspace) record(id string) string {
	return k.records() + id
}

func (k keyspace) marker(id string) string {
	return k.record(id) + markerSuffix
}

func (k keyspace) user(owner string) string {
	return k.prefix + ":users:" + owner
}

// channelID extracts the channel ID from a record key; ok is false for
// marker keys and foreign keys.
func (k keyspace) channelID(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, k.records())
	if !ok || id == "" || strings.HasSuffix(id, markerSuffix) {
		return "", false
	}
	return id, true
}
