package modules

import "github.com/NebulousLabs/errors"

// Sentinel errors for the propagation policy in spec.md §7. Component
// code extends these with errors.Extend/errors.AddContext; callers
// classify failures with errors.Contains rather than string matching.
var (
	// ErrChunkMissing indicates a sparse chunk: the archive member
	// simply doesn't exist. Never surfaced past the Tile Assembler; a
	// zero-filled chunk is substituted instead.
	ErrChunkMissing = errors.New("chunk is absent from archive")

	// ErrDecode indicates the chunk's compressed bytes could not be
	// decoded (bad codec bytes). Logged; substituted with zero.
	ErrDecode = errors.New("chunk decode failed")

	// ErrTransport indicates a network-level failure (connection drop,
	// 5xx, timeout reaching the archive). Retried once after a lease
	// refresh; substituted with zero if the retry also fails.
	ErrTransport = errors.New("transport error reaching archive")

	// ErrURLUnavailable indicates the archive-metadata collaborator
	// refused or errored on a lease refresh. Surfaced to every waiter of
	// that refresh episode.
	ErrURLUnavailable = errors.New("archive metadata collaborator unavailable")

	// ErrURLExpired indicates an expired or rejected signature. The chunk
	// stores report it when the archive server answers 401 or 403, so
	// callers classify it with errors.Contains instead of inspecting an
	// opaque transport error.
	ErrURLExpired = errors.New("signed url expired or rejected")

	// ErrTimeout indicates a per-operation deadline elapsed.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidRequest indicates malformed input at the API boundary
	// (bad coordinates, unknown channel, too many channels).
	ErrInvalidRequest = errors.New("invalid request")
)

// IsTransportFault reports whether err is, or wraps, a transport-layer
// failure.
func IsTransportFault(err error) bool {
	return errors.Contains(err, ErrTransport)
}

// IsURLFault reports whether err is, or wraps, a failure in obtaining or
// using a signed URL.
func IsURLFault(err error) bool {
	return errors.Contains(err, ErrURLUnavailable) || errors.Contains(err, ErrURLExpired)
}
