package chunkstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NebulousLabs/errors"

	"github.com/cccoolll/agent-lens/modules"
)

// httpReaderAt is an io.ReaderAt over a remote object reached by ranged GET
// requests. Every ReadAt issues its own request bounded by a fixed
// per-operation timeout, matching the teacher's one-deadline-per-segment
// download pattern (modules/host/download.go's SetDeadline-per-request
// loop) rather than one deadline for the whole archive session.
type httpReaderAt struct {
	client  *http.Client
	url     string
	timeout time.Duration

	mu   sync.Mutex
	size int64 // 0 until discovered
}

func newHTTPReaderAt(client *http.Client, url string, timeout time.Duration) *httpReaderAt {
	return &httpReaderAt{client: client, url: url, timeout: timeout}
}

// Size returns the remote object's total length, discovering it with a
// one-byte ranged GET on first call and caching the result.
func (r *httpReaderAt) Size() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size > 0 {
		return r.size, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, errors.Extend(modules.ErrTransport, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, errors.Extend(modules.ErrTransport, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	size, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if err != nil {
		if resp.ContentLength > 0 {
			size = resp.ContentLength
		} else {
			return 0, errors.Extend(modules.ErrTransport, errors.New("server did not report object size"))
		}
	}
	if statusIsAuthFailure(resp.StatusCode) {
		return 0, modules.ErrURLExpired
	}
	r.size = size
	return size, nil
}

// ReadAt fetches p's range with a single bounded request. It satisfies the
// io.ReaderAt contract: it either fills p completely or returns a non-nil
// error describing why it stopped short.
func (r *httpReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, errors.Extend(modules.ErrTransport, err)
	}
	end := off + int64(len(p)) - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, errors.Extend(modules.ErrTransport, err)
	}
	defer resp.Body.Close()

	if statusIsAuthFailure(resp.StatusCode) {
		return 0, modules.ErrURLExpired
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, errors.Extend(modules.ErrTransport, fmt.Errorf("unexpected status fetching range: %s", resp.Status))
	}

	n, err := io.ReadFull(resp.Body, p)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return n, errors.Extend(modules.ErrTransport, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func statusIsAuthFailure(code int) bool {
	return code == http.StatusForbidden || code == http.StatusUnauthorized
}

// parseContentRangeTotal parses the total-length field out of a
// "Content-Range: bytes 0-0/12345" header value.
func parseContentRangeTotal(header string) (int64, error) {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("malformed Content-Range: %q", header)
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range: %q", header)
	}
	return total, nil
}
