// Package coalesce implements the Request Coalescer (spec.md §4.D): a
// key-keyed de-duplicator for in-flight work. If a computation is already
// running for a key, later callers wait for that same result instead of
// starting a duplicate; the coalescer caches nothing itself and forgets the
// entry the instant its in-flight computation finishes, success or not.
package coalesce

import "golang.org/x/sync/singleflight"

// Coalescer deduplicates concurrent calls keyed by an arbitrary comparable
// identity string. Each distinct key's computations run independently; the
// zero value is ready to use. The Tile Assembler keeps two Coalescers, one
// keyed by archive key (spec.md's K-space) and one keyed by chunk key
// (C-space), matching the spec's requirement that the two spaces never
// share a waiter.
type Coalescer struct {
	group singleflight.Group
}

// Do runs fn for key unless a call for that key is already in flight, in
// which case it waits for and returns that call's result. The result is
// never cached beyond the lifetime of the in-flight call.
func (c *Coalescer) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := c.group.Do(key, fn)
	return v, err
}
