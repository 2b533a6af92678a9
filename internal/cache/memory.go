package cache

import (
	"container/list"
	"context"
	"sync"
)

// Memory is the in-process LRU tier. Eviction is by recency, bounded by
// both an entry count and a byte ceiling.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64

	order   *list.List // front = most recent
	entries map[string]*list.Element
	bytes   int64
	stats   Stats
}

type memoryItem struct {
	key   string
	entry *Entry
}

// NewMemory creates an LRU cache. maxEntries <= 0 defaults to 1024;
// maxBytes <= 0 means no byte ceiling.
func NewMemory(maxEntries int, maxBytes int64) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Memory{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Get returns the entry for key and marks it most recently used.
func (m *Memory) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.stats.Misses++
		return nil, false, nil
	}
	m.order.MoveToFront(el)
	m.stats.Hits++
	return el.Value.(*memoryItem).entry, true, nil
}

// Set stores entry under key, evicting least-recently-used entries as
// needed to respect the count and byte ceilings.
func (m *Memory) Set(_ context.Context, key string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		item := el.Value.(*memoryItem)
		m.bytes -= item.entry.Size
		item.entry = entry
		m.bytes += entry.Size
		m.order.MoveToFront(el)
	} else {
		el := m.order.PushFront(&memoryItem{key: key, entry: entry})
		m.entries[key] = el
		m.bytes += entry.Size
	}

	for len(m.entries) > m.maxEntries || (m.maxBytes > 0 && m.bytes > m.maxBytes && len(m.entries) > 1) {
		m.evictOldest()
	}
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
	return nil
}

// Clear removes all entries.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	m.entries = make(map[string]*list.Element)
	m.bytes = 0
	return nil
}

// Has reports whether key is present without touching recency.
func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}

// Stats returns a snapshot of the tier's counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Entries = int64(len(m.entries))
	s.Bytes = m.bytes
	return s
}

func (m *Memory) evictOldest() {
	el := m.order.Back()
	if el == nil {
		return
	}
	m.removeElement(el)
	m.stats.Evictions++
}

func (m *Memory) removeElement(el *list.Element) {
	item := el.Value.(*memoryItem)
	m.order.Remove(el)
	delete(m.entries, item.key)
	m.bytes -= item.entry.Size
}
