// Package scheduler implements the Priority Scheduler (spec.md §4.E): a
// bounded-worker pool draining a min-heap priority queue of tile jobs.
// Submitted jobs are deduplicated against an in-progress set; workers hand
// each popped job to the caller-supplied handler (the Tile Assembler). The
// pool's lifecycle follows the teacher's thread-group idiom (see
// modules/renter's threadedDownloadLoop in the pack), and the worker loop
// itself is an errgroup, matching the same dependency family the Request
// Coalescer draws golang.org/x/sync from.
package scheduler

import (
	"container/heap"
	"context"
	"runtime"
	"sync"

	"github.com/NebulousLabs/threadgroup"
	"golang.org/x/sync/errgroup"

	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/persist"
)

// Handler is invoked once per dequeued job. The scheduler does not
// interpret its return value beyond logging a non-nil error; fatal-free
// error handling (spec.md §7) is the handler's responsibility.
type Handler func(ctx context.Context, tile modules.TileCoord) error

// Scheduler drains a priority queue of modules.TileCoord jobs across a
// fixed worker pool. The zero value is not valid; use New.
type Scheduler struct {
	handler Handler
	log     *persist.Logger

	workerCount int
	tg          threadgroup.ThreadGroup

	mu         sync.Mutex
	cond       *sync.Cond
	queue      jobHeap
	inProgress map[modules.TileCoord]bool
	cancelled  map[modules.TileCoord]bool
	sequence   uint64
	stopped    bool
}

// New returns a Scheduler with workerCount workers (0 selects
// min(16, 2*NumCPU), per spec.md §4.E) that hands each dequeued job to
// handler.
func New(workerCount int, handler Handler, log *persist.Logger) *Scheduler {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU() * 2
		if workerCount > 16 {
			workerCount = 16
		}
	}
	s := &Scheduler{
		handler:     handler,
		log:         log,
		workerCount: workerCount,
		inProgress:  make(map[modules.TileCoord]bool),
		cancelled:   make(map[modules.TileCoord]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit enqueues tile at priority unless it is already queued or being
// worked on. Lower priority values are serviced first; ties preserve FIFO
// submission order.
func (s *Scheduler) Submit(tile modules.TileCoord, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inProgress[tile] {
		return
	}
	delete(s.cancelled, tile)
	heap.Push(&s.queue, modules.PriorityJob{Priority: priority, Tile: tile, Sequence: s.sequence})
	s.sequence++
	s.inProgress[tile] = true
	s.cond.Signal()
}

// Cancel marks tile cancelled. A not-yet-dequeued job is dropped silently
// when its turn comes; a running job completes regardless, since
// cancellation is advisory only.
func (s *Scheduler) Cancel(tile modules.TileCoord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[tile] = true
}

// Run starts the worker pool and blocks until ctx is cancelled or Stop is
// called. Intended to be run in its own goroutine by the owning node.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workerCount; i++ {
		g.Go(func() error {
			return s.worker(ctx)
		})
	}

	// Wake every worker once the scheduler is asked to stop, so Cond.Wait
	// calls blocked on an empty queue notice the shutdown.
	go func() {
		select {
		case <-ctx.Done():
		case <-s.tg.StopChan():
		}
		s.mu.Lock()
		s.stopped = true
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	return g.Wait()
}

// Stop signals every worker to exit once it finishes any job it's
// currently running, and waits for them to do so.
func (s *Scheduler) Stop() error {
	return s.tg.Stop()
}

func (s *Scheduler) worker(ctx context.Context) error {
	if err := s.tg.Add(); err != nil {
		return nil
	}
	defer s.tg.Done()

	for {
		job, ok := s.next(ctx)
		if !ok {
			return nil
		}

		s.mu.Lock()
		cancelled := s.cancelled[job.Tile]
		delete(s.cancelled, job.Tile)
		s.mu.Unlock()
		if cancelled {
			s.finish(job.Tile)
			continue
		}

		if err := s.handler(ctx, job.Tile); err != nil {
			s.log.Println("scheduler: handler error for", job.Tile.String(), err)
		}
		s.finish(job.Tile)
	}
}

// next blocks until a job is available, ctx is cancelled, or the
// scheduler is stopped, returning ok=false in the latter two cases.
func (s *Scheduler) next(ctx context.Context) (modules.PriorityJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() == 0 {
		if ctx.Err() != nil || s.stopped {
			return modules.PriorityJob{}, false
		}
		s.cond.Wait()
	}
	if ctx.Err() != nil || s.stopped {
		return modules.PriorityJob{}, false
	}
	job := heap.Pop(&s.queue).(modules.PriorityJob)
	return job, true
}

func (s *Scheduler) finish(tile modules.TileCoord) {
	s.mu.Lock()
	delete(s.inProgress, tile)
	s.mu.Unlock()
}

// Len reports how many jobs are currently queued (not counting jobs a
// worker has already picked up).
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
