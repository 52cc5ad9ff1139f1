package chunkstore

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/NebulousLabs/errors"

	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/persist"
)

// DirectStore implements the legacy per-chunk access mode (spec.md §9
// Open Questions): one signed-URL lookup and one full GET per chunk,
// rather than one archive lease shared across every chunk it contains.
// Selected via modules.Config.UseDirectChunkPath; the archive path is
// authoritative and should be preferred.
type DirectStore struct {
	collaborator modules.MetadataCollaborator
	client       *http.Client
	log          *persist.Logger
	timeout      time.Duration
}

// NewDirectStore returns a ChunkStore backed by the direct per-chunk URL
// layout.
func NewDirectStore(collaborator modules.MetadataCollaborator, client *http.Client, log *persist.Logger, timeout time.Duration) *DirectStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectStore{collaborator: collaborator, client: client, log: log, timeout: timeout}
}

// Open returns a handle that fetches each chunk's own signed URL on Read;
// the lease passed in here is unused because every chunk under the direct
// layout carries its own independent lease.
func (s *DirectStore) Open(ctx context.Context, key modules.ArchiveKey, lease modules.URLLease) (modules.Handle, error) {
	return &directHandle{store: s, key: key}, nil
}

type directHandle struct {
	store *DirectStore
	key   modules.ArchiveKey
}

func (h *directHandle) Read(ctx context.Context, scale int, x, y uint32) ([]byte, error) {
	chunkKey := modules.ChunkKey{Archive: h.key, Scale: scale, X: x, Y: y}
	url, err := h.store.collaborator.GetSignedURL(ctx, h.key.Dataset, chunkKey.DirectPath())
	if err != nil {
		return nil, errors.Extend(modules.ErrURLUnavailable, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.store.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Extend(modules.ErrTransport, err)
	}
	resp, err := h.store.client.Do(req)
	if err != nil {
		return nil, errors.Extend(modules.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if statusIsAuthFailure(resp.StatusCode) {
		return nil, modules.ErrURLExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Extend(modules.ErrTransport, errFromStatus(resp.Status))
	}

	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Extend(modules.ErrTransport, err)
	}

	decoded, err := decodeBloscZstd(frame)
	if err != nil {
		h.store.log.Println("chunkstore(direct): decode failure for", chunkKey.String(), err)
		return nil, errors.Extend(modules.ErrDecode, err)
	}
	return padChunk(decoded, h.key, chunkKey.String(), h.store.log), nil
}

func (h *directHandle) Close() error {
	return nil
}

func errFromStatus(status string) error {
	return errors.New("unexpected status fetching chunk: " + status)
}
