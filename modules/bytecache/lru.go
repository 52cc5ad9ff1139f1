// Package bytecache implements the Byte Cache (spec.md §4.C): a
// fixed-capacity LRU over decoded chunk bytes, evicted strictly by last
// get/put. Structure follows the map-plus-container/list pattern common to
// Go byte-range caches; the single section that touches both the map and
// the list is guarded by the deadlock-detecting Lock this repository
// inherited from its teacher, rather than a bare sync.Mutex, so a caller
// that forgets to release it is reported instead of wedging the server.
package bytecache

import (
	"container/list"
	"time"

	"github.com/cccoolll/agent-lens/lock"
	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/persist"
)

// maxLockTime bounds how long the cache's critical section may be held
// before the deadlock detector logs a warning and force-releases it.
const maxLockTime = 30 * time.Second

// entry is the value stored in the eviction list; element.Value points at
// one of these.
type entry struct {
	key  modules.ChunkKey
	data []byte
}

// LRU is a bounded, concurrency-safe byte cache keyed by modules.ChunkKey.
// The zero value is not valid; use New.
type LRU struct {
	capacity int
	size     int

	list  *list.List
	index map[modules.ChunkKey]*list.Element

	guard *lock.Lock
	log   *persist.Logger
}

// New returns an LRU with the given byte capacity.
func New(capacity int, log *persist.Logger) *LRU {
	return &LRU{
		capacity: capacity,
		list:     list.New(),
		index:    make(map[modules.ChunkKey]*list.Element),
		guard:    lock.New(maxLockTime, log),
		log:      log,
	}
}

// Get returns the cached bytes for key, if present, and marks it as
// recently used.
func (c *LRU) Get(key modules.ChunkKey) ([]byte, bool) {
	counter := c.guard.Lock("bytecache.Get")
	defer c.guard.Unlock("bytecache.Get", counter)

	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	c.list.MoveToFront(el)
	return el.Value.(*entry).data, true
}

// Put inserts data under key, evicting the least-recently-used entries
// first if capacity would otherwise be exceeded. A key already present is
// overwritten and moved to the front.
func (c *LRU) Put(key modules.ChunkKey, data []byte) {
	counter := c.guard.Lock("bytecache.Put")
	defer c.guard.Unlock("bytecache.Put", counter)

	if el, ok := c.index[key]; ok {
		old := el.Value.(*entry)
		c.size -= len(old.data)
		old.data = data
		c.size += len(data)
		c.list.MoveToFront(el)
		c.evictLocked()
		return
	}

	el := c.list.PushFront(&entry{key: key, data: data})
	c.index[key] = el
	c.size += len(data)
	c.evictLocked()
}

// evictLocked drops least-recently-used entries until the cache is back
// under capacity. Must be called with c.guard already held.
func (c *LRU) evictLocked() {
	for c.size > c.capacity {
		back := c.list.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.list.Remove(back)
		delete(c.index, e.key)
		c.size -= len(e.data)
		if c.log != nil {
			c.log.Println("bytecache: evicted", e.key.String())
		}
	}
}

// LenBytes reports the cache's current total held bytes.
func (c *LRU) LenBytes() int {
	counter := c.guard.Lock("bytecache.LenBytes")
	defer c.guard.Unlock("bytecache.LenBytes", counter)
	return c.size
}
