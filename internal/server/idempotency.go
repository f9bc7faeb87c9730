package server

import (
	"context"
	"sync"
	"time"
)

// batchCache remembers the response produced for each batch id so that a
// replayed batch returns the original outcome without reprocessing. A batch
// id is reserved before processing starts, so a retry that overlaps the
// still-running original waits for its result instead of reprocessing.
// Entries expire after the configured TTL; the queue's retry window is far
// shorter.
type batchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*batchEntry
}

type batchEntry struct {
	// done closes when resp is final; resp must not be read before then.
	done     chan struct{}
	resp     BatchResponse
	storedAt time.Time
}

func newBatchCache(ttl time.Duration) *batchCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &batchCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*batchEntry),
	}
}

// Begin reserves the batch id. The first caller becomes the processor and
// must follow up with Complete; every other caller blocks until that result
// exists and receives it.
func (c *batchCache) Begin(ctx context.Context, batchID string) (BatchResponse, bool, error) {
	c.mu.Lock()
	e, ok := c.entries[batchID]
	if ok && c.now().Sub(e.storedAt) <= c.ttl {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.resp, false, nil
		case <-ctx.Done():
			return BatchResponse{}, false, ctx.Err()
		}
	}
	e = &batchEntry{done: make(chan struct{}), storedAt: c.now()}
	c.entries[batchID] = e
	c.mu.Unlock()
	return BatchResponse{}, true, nil
}

// Complete publishes the processor's result and releases any waiting
// retries.
func (c *batchCache) Complete(batchID string, resp BatchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[batchID]
	if !ok {
		return
	}
	e.resp = resp
	e.storedAt = c.now()
	close(e.done)
}

func (c *batchCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	for id, e := range c.entries {
		select {
		case <-e.done:
		default:
			// Still processing; never evict an in-flight reservation.
			continue
		}
		if e.storedAt.Before(cutoff) {
			delete(c.entries, id)
		}
	}
}

func (c *batchCache) evictLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.purge()
		}
	}
}
