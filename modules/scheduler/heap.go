package scheduler

import "github.com/cccoolll/agent-lens/modules"

// jobHeap orders modules.PriorityJob values ascending by priority, ties
// broken by ascending sequence, matching spec.md §4.E's ordering rule.
// Implements container/heap.Interface; callers must hold the scheduler's
// mutex while touching it.
type jobHeap []modules.PriorityJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(modules.PriorityJob))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}
