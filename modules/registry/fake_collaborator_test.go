package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/NebulousLabs/errors"

	"github.com/cccoolll/agent-lens/modules"
)

// fakeCollaborator is a modules.MetadataCollaborator whose responses and
// call count a test can script and inspect.
type fakeCollaborator struct {
	mu       sync.Mutex
	calls    int
	queryErr error
	urlFunc  func(dataset, path string) string
}

func newFakeCollaborator() *fakeCollaborator {
	return &fakeCollaborator{
		urlFunc: func(dataset, path string) string {
			return fmt.Sprintf("https://example.invalid/%s/%s?X-Amz-Date=20260101T000000Z&X-Amz-Expires=3600", dataset, path)
		},
	}
}

func (f *fakeCollaborator) GetSignedURL(ctx context.Context, dataset, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.queryErr != nil {
		return "", errors.Extend(modules.ErrURLUnavailable, f.queryErr)
	}
	return f.urlFunc(dataset, path), nil
}

func (f *fakeCollaborator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
