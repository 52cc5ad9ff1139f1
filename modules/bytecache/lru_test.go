package bytecache

import (
	"sync"
	"testing"

	"github.com/NebulousLabs/fastrand"

	"github.com/cccoolll/agent-lens/modules"
)

func testKey(n int) modules.ChunkKey {
	return modules.ChunkKey{
		Archive: modules.ArchiveKey{Dataset: "ds", Timestamp: "ts", Channel: 0},
		Scale:   0,
		X:       uint32(n),
		Y:       0,
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := New(1<<20, nil)
	key := testKey(0)
	data := fastrand.Bytes(1024)

	c.Put(key, data)
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(got) != string(data) {
		t.Fatal("round-tripped bytes did not match")
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(1<<20, nil)
	if _, ok := c.Get(testKey(0)); ok {
		t.Fatal("expected a miss on an empty cache")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	entrySize := 1024
	c := New(entrySize*2, nil) // room for exactly 2 entries

	k0, k1, k2 := testKey(0), testKey(1), testKey(2)
	c.Put(k0, fastrand.Bytes(entrySize))
	c.Put(k1, fastrand.Bytes(entrySize))

	// Touch k0 so it's more recent than k1.
	if _, ok := c.Get(k0); !ok {
		t.Fatal("expected k0 to still be cached")
	}

	// Inserting k2 should evict k1 (now the least recently used), not k0.
	c.Put(k2, fastrand.Bytes(entrySize))

	if _, ok := c.Get(k1); ok {
		t.Fatal("expected k1 to have been evicted")
	}
	if _, ok := c.Get(k0); !ok {
		t.Fatal("expected k0 to survive eviction")
	}
	if _, ok := c.Get(k2); !ok {
		t.Fatal("expected k2 to be cached")
	}
}

func TestLenBytesNeverExceedsCapacity(t *testing.T) {
	capacity := 8192
	c := New(capacity, nil)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(testKey(i), fastrand.Bytes(512))
		}(i)
	}
	wg.Wait()

	if c.LenBytes() > capacity {
		t.Fatalf("cache exceeded capacity: %d > %d", c.LenBytes(), capacity)
	}
}

func TestPutOverwriteUpdatesSize(t *testing.T) {
	c := New(1<<20, nil)
	key := testKey(0)

	c.Put(key, fastrand.Bytes(100))
	c.Put(key, fastrand.Bytes(50))

	if c.LenBytes() != 50 {
		t.Fatalf("expected size 50 after overwrite, got %d", c.LenBytes())
	}
}
