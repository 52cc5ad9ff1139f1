package modules

import "context"

// MetadataCollaborator is the narrow interface onto the out-of-scope
// archive-metadata service: it vends signed download URLs for archive
// members. path is either "{timestamp}/{channel}.zip" (archive mode) or
// "{timestamp}/{channel}/scale{z}/{y}.{x}" (legacy direct-chunk mode).
type MetadataCollaborator interface {
	GetSignedURL(ctx context.Context, dataset, path string) (string, error)
}

// ChunkStore exposes one archive's decoded chunks. Both the archive-backed
// store and the legacy direct-chunk store satisfy this interface, so the
// Tile Assembler never distinguishes them.
type ChunkStore interface {
	// Open constructs a readable view over the archive identified by
	// key, using lease for authentication. The returned Handle is
	// immutable; reads against it never re-authenticate.
	Open(ctx context.Context, key ArchiveKey, lease URLLease) (Handle, error)
}

// Handle is an opened, ready-to-read view over one remote archive.
type Handle interface {
	// Read returns the decoded (CHUNK, CHUNK) uint8 array for the given
	// chunk coordinates, or nil if the chunk is sparse-absent. A
	// non-nil, non-ErrChunkMissing error indicates ErrDecode or
	// ErrTransport, or, from the direct-chunk store, ErrURLExpired or
	// ErrURLUnavailable.
	Read(ctx context.Context, scale int, x, y uint32) ([]byte, error)

	// Close releases any resources the handle holds open (file
	// descriptors, pooled connections). Safe to call more than once.
	Close() error
}

// ByteCache is a bounded LRU over decoded chunk bytes.
type ByteCache interface {
	Get(key ChunkKey) ([]byte, bool)
	Put(key ChunkKey, data []byte)
	LenBytes() int
}

// TileServer is the Public API surface exposed to the HTTP façade
// (component H in spec.md §4.H), plus the WarmArchive operation
// supplemented from original_source/ (see SPEC_FULL.md §9).
type TileServer interface {
	GetTile(ctx context.Context, tile TileCoord, settings ChannelSettings, priority int) ([]byte, error)
	GetMergedTile(ctx context.Context, tiles []TileCoord, settings map[int]ChannelSettings, priority int) ([]byte, error)
	Prefetch(ctx context.Context, tiles []TileCoord, priority int) int
	WarmArchive(ctx context.Context, key ArchiveKey) error
	Health(ctx context.Context) error
}
