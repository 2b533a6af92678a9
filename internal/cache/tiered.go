package cache

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Tiered reads memory first and falls back to the remote tier with
// promotion; writes go to both tiers. Concurrent writers for the same
// key are serialized so a Set completes before a racing Get for that
// key observes the store.
type Tiered struct {
	memory *Memory
	remote Store // nil when the remote tier is disabled
	keys   *keyedMutex
}

// NewTiered combines the memory tier with an optional remote tier.
func NewTiered(memory *Memory, remote Store) *Tiered {
	return &Tiered{memory: memory, remote: remote, keys: newKeyedMutex()}
}

// Get returns the entry from the fastest tier that holds it, promoting
// remote hits into memory. Remote tier failures degrade to a miss.
func (t *Tiered) Get(ctx context.Context, key string) (*Entry, bool, error) {
	l := t.keys.lock(key)
	defer t.keys.unlock(key, l)

	if entry, ok, _ := t.memory.Get(ctx, key); ok {
		return entry, true, nil
	}
	if t.remote == nil {
		return nil, false, nil
	}

	entry, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		log.Warn().Str("key", key).Err(err).Msg("remote cache read failed")
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	_ = t.memory.Set(ctx, key, entry) // promote
	return entry, true, nil
}

// Set writes the entry to both tiers. The per-key lock is released
// before returning; the remote write happens inside the critical
// section only for the memory tier's view, the RPC itself is last.
func (t *Tiered) Set(ctx context.Context, key string, entry *Entry) error {
	l := t.keys.lock(key)
	if err := t.memory.Set(ctx, key, entry); err != nil {
		t.keys.unlock(key, l)
		return err
	}
	t.keys.unlock(key, l)

	if t.remote == nil {
		return nil
	}
	if err := t.remote.Set(ctx, key, entry); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("remote cache write failed")
	}
	return nil
}

// Delete removes key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	l := t.keys.lock(key)
	defer t.keys.unlock(key, l)

	if err := t.memory.Delete(ctx, key); err != nil {
		return err
	}
	if t.remote != nil {
		if err := t.remote.Delete(ctx, key); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("remote cache delete failed")
		}
	}
	return nil
}

// Clear empties both tiers.
func (t *Tiered) Clear(ctx context.Context) error {
	if err := t.memory.Clear(ctx); err != nil {
		return err
	}
	if t.remote != nil {
		if err := t.remote.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Has checks memory first, then the remote tier.
func (t *Tiered) Has(ctx context.Context, key string) (bool, error) {
	if ok, _ := t.memory.Has(ctx, key); ok {
		return true, nil
	}
	if t.remote == nil {
		return false, nil
	}
	return t.remote.Has(ctx, key)
}

// MemoryStats exposes the memory tier counters for metrics.
func (t *Tiered) MemoryStats() Stats { return t.memory.Stats() }
