// Package dedupe remembers which session events a station has already
// applied, so replays from the broadcast bus are ignored.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50000

// Deduper records seen event IDs to ensure at-most-once application.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets an ID so a later delivery is applied again. Used when
	// an event was recorded but could not be applied.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps the most recent maxSize IDs and evicts the oldest
// first. A non-positive maxSize keeps every ID.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]uint64 // id -> generation of its ring slot
	ring    []entry
	next    int
	gen     uint64
	maxSize int
	size    atomic.Int64
}

type entry struct {
	id  string
	gen uint64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	if d.maxSize > 0 {
		d.ring = make([]entry, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.gen++
	if d.maxSize > 0 {
		old := d.ring[d.next]
		if g, ok := d.seen[old.id]; ok && old.id != "" && g == old.gen {
			delete(d.seen, old.id)
			d.size.Add(-1)
		}
		d.ring[d.next] = entry{id: id, gen: d.gen}
		d.next = (d.next + 1) % d.maxSize
	}
	d.seen[id] = d.gen
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// the ring slot is left behind; its generation no longer matches
	if _, ok := d.seen[id]; ok {
		delete(d.seen, id)
		d.size.Add(-1)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
