// Package assembler implements the Tile Assembler (spec.md §4.F): given a
// tile coordinate, it returns decoded chunk bytes, orchestrating the
// registry, chunk store, byte cache and request coalescer so that no
// caller-visible error ever escapes — a decode or transport failure
// degrades to a zero-filled chunk instead.
package assembler

import (
	"context"

	"github.com/NebulousLabs/errors"

	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/modules/coalesce"
	"github.com/cccoolll/agent-lens/persist"
)

// registry is the narrow slice of modules/registry.Registry the assembler
// needs; kept as an interface so tests can substitute a fake.
type registry interface {
	Lease(ctx context.Context, key modules.ArchiveKey) (modules.URLLease, error)
	Invalidate(key modules.ArchiveKey)
}

// byteCache is the narrow slice of modules/bytecache.LRU the assembler
// needs.
type byteCache interface {
	Get(key modules.ChunkKey) ([]byte, bool)
	Put(key modules.ChunkKey, data []byte)
}

// Assembler resolves modules.TileCoord values into decoded chunk bytes.
// The zero value is not valid; use New.
type Assembler struct {
	registry registry
	store    modules.ChunkStore
	cache    byteCache
	log      *persist.Logger

	archiveCoalescer *coalesce.Coalescer
	chunkCoalescer   *coalesce.Coalescer

	// handles caches the open modules.Handle per archive key until a
	// retryable read failure drops it, so concurrent chunk reads against
	// the same archive don't each pay archive.Open's ZIP-directory cost.
	handles handleCache
}

// handleCache is the minimal slice of functionality the assembler needs
// from a handle-reuse layer; kept as an interface so the fast in-memory
// implementation in handlecache.go can be swapped in tests.
type handleCache interface {
	getOrOpen(ctx context.Context, store modules.ChunkStore, key modules.ArchiveKey, lease modules.URLLease) (modules.Handle, error)
	drop(key modules.ArchiveKey)
}

// New returns an Assembler wired to the given components.
func New(reg registry, store modules.ChunkStore, cache byteCache, log *persist.Logger) *Assembler {
	return &Assembler{
		registry:         reg,
		store:            store,
		cache:            cache,
		log:              log,
		archiveCoalescer: &coalesce.Coalescer{},
		chunkCoalescer:   &coalesce.Coalescer{},
		handles:          newMapHandleCache(),
	}
}

// Fetch resolves tile into its decoded (modules.ChunkSize, modules.ChunkSize)
// byte array. It never returns an error that the public API needs to
// surface: every internal failure degrades to a zero-filled chunk, logged
// at the point of degradation, per spec.md §4.F.
func (a *Assembler) Fetch(ctx context.Context, tile modules.TileCoord) []byte {
	chunkKey := tile.ChunkKey()

	if data, ok := a.cache.Get(chunkKey); ok {
		return data
	}

	v, err := a.chunkCoalescer.Do(chunkKey.Archive.String()+"/"+chunkKey.String(), func() (interface{}, error) {
		return a.fetchOnce(ctx, tile)
	})
	if err != nil {
		a.log.Println("assembler: degrading to zero chunk for", chunkKey.String(), err)
		zero := make([]byte, modules.ChunkSize*modules.ChunkSize)
		a.cache.Put(chunkKey, zero)
		return zero
	}
	return v.([]byte)
}

// fetchOnce runs the lease→open→read sequence once, retrying exactly once
// after invalidating the archive's lease if the first attempt fails with a
// transport or expired-signature error. A missing chunk (no error, nil
// bytes) is cached as a zero array so repeated requests for a known gap
// don't re-hit the network.
func (a *Assembler) fetchOnce(ctx context.Context, tile modules.TileCoord) ([]byte, error) {
	archiveKey := tile.ArchiveKey()
	chunkKey := tile.ChunkKey()

	data, err := a.attempt(ctx, archiveKey, chunkKey, tile.Scale, tile.X, tile.Y)
	if err != nil && isRetryable(err) {
		a.registry.Invalidate(archiveKey)
		a.handles.drop(archiveKey)
		data, err = a.attempt(ctx, archiveKey, chunkKey, tile.Scale, tile.X, tile.Y)
	}
	if err != nil {
		return nil, err
	}

	if data == nil {
		// Sparse absence: cache a zero array so repeated requests for
		// this known gap never re-hit the network.
		data = make([]byte, modules.ChunkSize*modules.ChunkSize)
	}
	a.cache.Put(chunkKey, data)
	return data, nil
}

func (a *Assembler) attempt(ctx context.Context, archiveKey modules.ArchiveKey, chunkKey modules.ChunkKey, scale int, x, y uint32) ([]byte, error) {
	lease, err := a.registry.Lease(ctx, archiveKey)
	if err != nil {
		return nil, err
	}

	v, err := a.archiveCoalescer.Do(archiveKey.String(), func() (interface{}, error) {
		return a.handles.getOrOpen(ctx, a.store, archiveKey, lease)
	})
	if err != nil {
		return nil, err
	}
	handle := v.(modules.Handle)

	data, err := handle.Read(ctx, scale, x, y)
	if err != nil && errors.Contains(err, modules.ErrDecode) {
		// A decode failure is logged by the chunk store; it degrades to
		// a zero chunk without a retry (retrying won't fix bad bytes).
		a.log.Println("assembler: decode failure for", chunkKey.String(), err)
		return make([]byte, modules.ChunkSize*modules.ChunkSize), nil
	}
	return data, err
}

// isRetryable reports whether err's class warrants invalidating the lease
// and retrying once, per spec.md §4.F / §9: transport failures and
// expired-or-rejected signatures both qualify.
func isRetryable(err error) bool {
	return errors.Contains(err, modules.ErrTransport) || errors.Contains(err, modules.ErrURLExpired)
}

// WarmArchive preloads and caches a lease plus an open handle for key
// without reading any chunk, so the first real tile request against a
// newly-selected dataset/timestamp doesn't pay archive-open latency.
// Supplemented from the Python reference implementation's pattern of
// eagerly opening a Zarr group ahead of the first tile request.
func (a *Assembler) WarmArchive(ctx context.Context, key modules.ArchiveKey) error {
	lease, err := a.registry.Lease(ctx, key)
	if err != nil {
		return err
	}
	_, err = a.archiveCoalescer.Do(key.String(), func() (interface{}, error) {
		return a.handles.getOrOpen(ctx, a.store, key, lease)
	})
	return err
}
