package internal

import (
	"context"
	"sync"
	"time"
)

// DedupStore suppresses repeated delivery of the same logical event across
// provider retry storms. Entries expire after the configured TTL, which must
// exceed the provider's maximum redelivery interval.
type DedupStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	sweep time.Duration
}

// NewDedupStore creates a store with the given TTL.
func NewDedupStore(ttl time.Duration) *DedupStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DedupStore{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
		sweep: ttl,
	}
}

// Admit reports whether the key is new within the TTL window and records it.
// The check and the insert happen under one lock, so of N concurrent admits
// for the same key exactly one returns true.
func (d *DedupStore) Admit(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if firstSeen, ok := d.seen[key]; ok {
		if now.Sub(firstSeen) < d.ttl {
			return false
		}
		// Expired entry, evicted lazily: the event is treated as new.
	}
	d.seen[key] = now
	return true
}

// Run sweeps expired entries periodically until the context is canceled.
func (d *DedupStore) Run(ctx context.Context) {
	ticker := time.NewTicker(d.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.evictExpired()
		}
	}
}

// Len reports the number of live entries.
func (d *DedupStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *DedupStore) evictExpired() {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, firstSeen := range d.seen {
		if now.Sub(firstSeen) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
