// Package registry implements the Archive URL Registry (spec.md §4.A): a
// cache of short-lived signed URLs leased from the metadata collaborator,
// keyed by modules.ArchiveKey. A lease is reused until it is within its
// safety margin of expiring, at which point the next caller triggers a
// single refresh that every concurrent caller for that key waits on.
package registry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NebulousLabs/errors"
	"golang.org/x/sync/singleflight"

	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/persist"
)

// Registry leases and caches signed archive URLs. The zero value is not
// valid; use New.
type Registry struct {
	collaborator modules.MetadataCollaborator
	log          *persist.Logger
	safetyMargin time.Duration
	defaultTTL   time.Duration
	idleTTL      time.Duration

	now func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[modules.ArchiveKey]*entry
}

type entry struct {
	lease    modules.URLLease
	lastUsed time.Time
}

// New returns a Registry that leases URLs from collaborator. safetyMargin
// is the minimum remaining lifetime a lease must have before it's handed to
// a caller; idleTTL bounds how long an unused key's entry is kept around.
func New(collaborator modules.MetadataCollaborator, log *persist.Logger, safetyMargin, defaultTTL, idleTTL time.Duration) *Registry {
	return &Registry{
		collaborator: collaborator,
		log:          log,
		safetyMargin: safetyMargin,
		defaultTTL:   defaultTTL,
		idleTTL:      idleTTL,
		now:          time.Now,
		entries:      make(map[modules.ArchiveKey]*entry),
	}
}

// Lease returns a signed URL for key's archive, refreshing it if the
// cached lease (if any) is within the safety margin of its expiry.
// Concurrent callers for the same key share a single in-flight refresh.
func (r *Registry) Lease(ctx context.Context, key modules.ArchiveKey) (modules.URLLease, error) {
	now := r.now()

	r.mu.Lock()
	e, ok := r.entries[key]
	if ok && e.lease.remaining(now) >= r.safetyMargin {
		e.lastUsed = now
		lease := e.lease
		r.mu.Unlock()
		return lease, nil
	}
	r.mu.Unlock()

	groupKey := key.String()
	v, err, _ := r.group.Do(groupKey, func() (interface{}, error) {
		// Re-check after winning the singleflight race: another
		// waiter's refresh may have already landed while we were
		// queued behind the group's internal mutex.
		now := r.now()
		r.mu.Lock()
		if e, ok := r.entries[key]; ok && e.lease.remaining(now) >= r.safetyMargin {
			lease := e.lease
			r.mu.Unlock()
			return lease, nil
		}
		r.mu.Unlock()

		lease, err := r.refresh(ctx, key)
		if err != nil {
			return modules.URLLease{}, err
		}
		return lease, nil
	})
	if err != nil {
		return modules.URLLease{}, err
	}
	lease := v.(modules.URLLease)

	r.mu.Lock()
	r.entries[key] = &entry{lease: lease, lastUsed: r.now()}
	r.mu.Unlock()

	return lease, nil
}

// Invalidate drops any cached lease for key, forcing the next Lease call to
// refresh. Used by the Tile Assembler after a 403/expired response that
// slipped past the safety margin.
func (r *Registry) Invalidate(key modules.ArchiveKey) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// SweepIdle removes entries that haven't been used in idleTTL, bounding the
// registry's memory to the set of archives actually in active use. Intended
// to be called periodically by the owning node, mirroring the lock-pruning
// safeguard in the Python reference implementation's get_zarr_group.
func (r *Registry) SweepIdle() int {
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports how many archive keys currently have a cached lease.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) refresh(ctx context.Context, key modules.ArchiveKey) (modules.URLLease, error) {
	url, err := r.collaborator.GetSignedURL(ctx, key.Dataset, key.ArchivePath())
	if err != nil {
		return modules.URLLease{}, errors.Extend(modules.ErrURLUnavailable, err)
	}
	expiry := r.extractExpiry(url)
	r.log.Println("registry: refreshed lease for", key.String(), "expires", expiry)
	return modules.URLLease{URL: url, Expiry: expiry}, nil
}

// amzDateLayout is the ISO 8601 basic format SigV4 stamps into
// X-Amz-Date: YYYYMMDDTHHMMSSZ.
const amzDateLayout = "20060102T150405Z"

// extractExpiry recovers a signed URL's absolute expiry from its
// X-Amz-Date/X-Amz-Expires query parameters, per spec.md §4.A: expiry is
// the signed date plus the advertised TTL, not now()+TTL. Either field
// missing or unparseable falls back to defaultTTL from now.
func (r *Registry) extractExpiry(url string) time.Time {
	now := r.now()

	dateStr, ok := queryParam(url, "X-Amz-Date")
	if !ok {
		return now.Add(r.defaultTTL)
	}
	signedAt, err := time.Parse(amzDateLayout, dateStr)
	if err != nil {
		return now.Add(r.defaultTTL)
	}

	expiresStr, ok := queryParam(url, "X-Amz-Expires")
	if !ok {
		return now.Add(r.defaultTTL)
	}
	seconds, err := strconv.Atoi(expiresStr)
	if err != nil || seconds <= 0 {
		return now.Add(r.defaultTTL)
	}
	return signedAt.Add(time.Duration(seconds) * time.Second)
}

// queryParam extracts the value of name from a raw query string without a
// full URL parse, matching the split-on-delimiter approach the source
// service uses to read its own presigned URLs.
func queryParam(rawURL, name string) (string, bool) {
	marker := name + "="
	idx := strings.Index(rawURL, marker)
	if idx < 0 {
		return "", false
	}
	rest := rawURL[idx+len(marker):]
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		rest = rest[:amp]
	}
	return rest, true
}
