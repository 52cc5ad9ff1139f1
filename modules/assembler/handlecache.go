package assembler

import (
	"context"
	"sync"

	"github.com/cccoolll/agent-lens/modules"
)

// mapHandleCache is the default handleCache implementation: one open
// modules.Handle per archive key, reused across concurrent chunk reads and
// dropped on invalidation. Grounded on the teacher's modules/renter
// contractor-cache pattern (a map keyed by identity, guarded by a single
// mutex, entries replaced rather than mutated in place).
type mapHandleCache struct {
	mu      sync.Mutex
	handles map[modules.ArchiveKey]modules.Handle
}

func newMapHandleCache() *mapHandleCache {
	return &mapHandleCache{handles: make(map[modules.ArchiveKey]modules.Handle)}
}

// getOrOpen returns the cached handle for key if present, otherwise opens
// a new one via store.Open and caches it. Concurrent callers racing for
// the same never-yet-opened key are not deduplicated here — that's the
// archive coalescer's job one layer up; this cache only avoids repeat
// Open calls across distinct coalesced episodes.
func (c *mapHandleCache) getOrOpen(ctx context.Context, store modules.ChunkStore, key modules.ArchiveKey, lease modules.URLLease) (modules.Handle, error) {
	c.mu.Lock()
	if h, ok := c.handles[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	h, err := store.Open(ctx, key, lease)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.handles[key]; ok {
		// Lost the race: close the redundant handle and keep the
		// winner, so at most one live handle per archive key exists.
		h.Close()
		return existing, nil
	}
	c.handles[key] = h
	return h, nil
}

// drop closes and evicts key's cached handle, if any. Called after an
// invalidated lease so the next getOrOpen call re-authenticates.
func (c *mapHandleCache) drop(key modules.ArchiveKey) {
	c.mu.Lock()
	h, ok := c.handles[key]
	if ok {
		delete(c.handles, key)
	}
	c.mu.Unlock()
	if ok {
		h.Close()
	}
}
