package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cccoolll/agent-lens/build"
	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/persist"
)

func testLogger(t *testing.T, name string) *persist.Logger {
	dir := build.TempDir("registry", name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	log, err := persist.NewLogger(filepath.Join(dir, "registry.log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func testKey() modules.ArchiveKey {
	return modules.ArchiveKey{Dataset: "agent-lens/hpa-scan", Timestamp: "2026-01-01_00-00-00", Channel: 0}
}

// TestLeaseCachesUntilSafetyMargin checks that a fresh lease is served from
// cache until it falls within the safety margin of its expiry.
func TestLeaseCachesUntilSafetyMargin(t *testing.T) {
	fc := newFakeCollaborator()
	r := New(fc, testLogger(t, "TestLeaseCachesUntilSafetyMargin"), 5*time.Minute, time.Hour, time.Hour)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	key := testKey()
	lease1, err := r.Lease(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if fc.callCount() != 1 {
		t.Fatalf("expected 1 collaborator call, got %d", fc.callCount())
	}

	// Still well within the lease lifetime: should not refresh.
	clock = clock.Add(10 * time.Minute)
	lease2, err := r.Lease(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if fc.callCount() != 1 {
		t.Fatalf("expected no refresh, got %d calls", fc.callCount())
	}
	if lease1.URL != lease2.URL {
		t.Fatal("expected the same cached lease")
	}

	// Advance past the safety margin: should trigger a refresh.
	clock = clock.Add(56 * time.Minute) // total 66m since issue, expiry at 60m
	lease3, err := r.Lease(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if fc.callCount() != 2 {
		t.Fatalf("expected a refresh once within the safety margin, got %d calls", fc.callCount())
	}
	if lease3.Expiry.Before(lease2.Expiry) {
		t.Fatal("refreshed lease should not expire earlier than the stale one")
	}
}

// TestLeaseCoalescesConcurrentRefresh checks that concurrent callers for
// the same key during a cold start share a single collaborator call.
func TestLeaseCoalescesConcurrentRefresh(t *testing.T) {
	fc := newFakeCollaborator()
	r := New(fc, testLogger(t, "TestLeaseCoalescesConcurrentRefresh"), 5*time.Minute, time.Hour, time.Hour)
	key := testKey()

	const n = 32
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := r.Lease(context.Background(), key)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
	if fc.callCount() != 1 {
		t.Fatalf("expected exactly 1 collaborator call for %d concurrent leases, got %d", n, fc.callCount())
	}
}

// TestInvalidateForcesRefresh checks that Invalidate drops the cached lease
// so the next Lease call hits the collaborator again even though the lease
// hadn't crossed its safety margin.
func TestInvalidateForcesRefresh(t *testing.T) {
	fc := newFakeCollaborator()
	r := New(fc, testLogger(t, "TestInvalidateForcesRefresh"), 5*time.Minute, time.Hour, time.Hour)
	key := testKey()

	if _, err := r.Lease(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	r.Invalidate(key)
	if _, err := r.Lease(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if fc.callCount() != 2 {
		t.Fatalf("expected a refresh after invalidate, got %d calls", fc.callCount())
	}
}

// TestLeasePropagatesCollaboratorError checks that a collaborator failure
// surfaces as modules.ErrURLUnavailable to every waiter.
func TestLeasePropagatesCollaboratorError(t *testing.T) {
	fc := newFakeCollaborator()
	fc.queryErr = context.DeadlineExceeded
	r := New(fc, testLogger(t, "TestLeasePropagatesCollaboratorError"), 5*time.Minute, time.Hour, time.Hour)

	_, err := r.Lease(context.Background(), testKey())
	if !modules.IsURLFault(err) {
		t.Fatalf("expected a URL fault, got %v", err)
	}
}

// TestSweepIdleRemovesUnused checks that entries untouched since idleTTL
// are pruned.
func TestSweepIdleRemovesUnused(t *testing.T) {
	fc := newFakeCollaborator()
	r := New(fc, testLogger(t, "TestSweepIdleRemovesUnused"), 5*time.Minute, time.Hour, time.Minute)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	if _, err := r.Lease(context.Background(), testKey()); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Fatal("expected one entry")
	}

	clock = clock.Add(2 * time.Minute)
	removed := r.SweepIdle()
	if removed != 1 {
		t.Fatalf("expected to sweep 1 idle entry, got %d", removed)
	}
	if r.Len() != 0 {
		t.Fatal("expected registry to be empty after sweep")
	}
}

// TestExtractExpiryFallsBackOnMalformedURL checks that a URL missing or
// malforming X-Amz-Expires falls back to the configured default TTL rather
// than failing the lease.
func TestExtractExpiryFallsBackOnMalformedURL(t *testing.T) {
	fc := newFakeCollaborator()
	fc.urlFunc = func(dataset, path string) string {
		return "https://example.invalid/no-query-params"
	}
	r := New(fc, testLogger(t, "TestExtractExpiryFallsBackOnMalformedURL"), 5*time.Minute, 90*time.Minute, time.Hour)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	lease, err := r.Lease(context.Background(), testKey())
	if err != nil {
		t.Fatal(err)
	}
	want := clock.Add(90 * time.Minute)
	if !lease.Expiry.Equal(want) {
		t.Fatalf("expected fallback expiry %v, got %v", want, lease.Expiry)
	}
}

// TestExtractExpiryParsesAmzDateScenarioE6 reproduces spec.md scenario E6
// (spec.md §8): a signed URL stamped with a stale X-Amz-Date, queried well
// after that date, must have its expiry computed from the *signed* date
// plus X-Amz-Expires — not from now()+X-Amz-Expires — so the lease already
// reads as expired and the very next Lease call refreshes immediately.
func TestExtractExpiryParsesAmzDateScenarioE6(t *testing.T) {
	fc := newFakeCollaborator()
	fc.urlFunc = func(dataset, path string) string {
		return "https://example.invalid/a?X-Amz-Date=20240101T000000Z&X-Amz-Expires=60"
	}
	r := New(fc, testLogger(t, "TestExtractExpiryParsesAmzDateScenarioE6"), 5*time.Minute, time.Hour, time.Hour)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	lease, err := r.Lease(context.Background(), testKey())
	if err != nil {
		t.Fatal(err)
	}
	wantExpiry := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	if !lease.Expiry.Equal(wantExpiry) {
		t.Fatalf("expected expiry computed from the signed date (%v), got %v", wantExpiry, lease.Expiry)
	}
	if fc.callCount() != 1 {
		t.Fatalf("expected 1 collaborator call, got %d", fc.callCount())
	}

	// The lease above is already years expired relative to clock, so the
	// very next Lease call must refresh immediately rather than serving
	// the stale cached lease.
	if _, err := r.Lease(context.Background(), testKey()); err != nil {
		t.Fatal(err)
	}
	if fc.callCount() != 2 {
		t.Fatalf("expected an immediate refresh for a stale signed date, got %d calls", fc.callCount())
	}
}
