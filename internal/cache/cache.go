// Package cache provides the two-tier content cache: an in-memory LRU
// and an optional Redis tier that is authoritative across processes.
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is one cached value plus its revalidation metadata. Entries are
// immutable once stored; refreshing a key overwrites the whole entry.
type Entry struct {
	Value        []byte    `json:"value"`
	InsertedAt   time.Time `json:"insertedAt"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	ContentHash  string    `json:"contentHash,omitempty"`
	Size         int64     `json:"size"`
}

// Store is the cache contract shared by all tiers.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) (bool, error)
}

// Stats reports hit/miss counters for one tier.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int64 `json:"entries"`
	Bytes     int64 `json:"bytes"`
}

// keyedMutex serializes writers per key so that a Set completes before a
// concurrent Get for the same key observes a partial write.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

func (k *keyedMutex) lock(key string) *keyLock {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return l
}

func (k *keyedMutex) unlock(key string, l *keyLock) {
	l.Unlock()

	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
