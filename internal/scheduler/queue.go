package scheduler

// tierQueue is a FIFO of pending tasks plus the set of task IDs
// currently executing the dispatch step for that tier. It has no
// goroutine of its own; the scheduler's pump loop drives it under a
// shared lock so the fast/background pause relationship can be
// evaluated atomically across both tiers.
type tierQueue struct {
	concurrency int
	maxPending  int
	pending     []*Task
	running     map[string]bool
}

func newTierQueue(concurrency int) *tierQueue {
	return newTierQueueBounded(concurrency, 0)
}

func newTierQueueBounded(concurrency, maxPending int) *tierQueue {
	return &tierQueue{
		concurrency: concurrency,
		maxPending:  maxPending,
		running:     make(map[string]bool),
	}
}

// full reports whether the tier's backlog is at its configured cap.
// maxPending of zero means unbounded, matching the pre-existing
// behavior for callers that never set it.
func (q *tierQueue) full() bool {
	return q.maxPending > 0 && len(q.pending) >= q.maxPending
}

func (q *tierQueue) push(t *Task) {
	q.pending = append(q.pending, t)
}

func (q *tierQueue) hasCapacity() bool {
	return len(q.running) < q.concurrency && len(q.pending) > 0
}

// pop removes and returns the head of the FIFO, marking it running.
func (q *tierQueue) pop() *Task {
	t := q.pending[0]
	q.pending = q.pending[1:]
	q.running[t.ID] = true
	return t
}

func (q *tierQueue) finish(taskID string) {
	delete(q.running, taskID)
}

func (q *tierQueue) idle() bool {
	return len(q.pending) == 0 && len(q.running) == 0
}

func (q *tierQueue) stats() (waiting, running int) {
	return len(q.pending), len(q.running)
}

// removePending drops every still-pending task matching the predicate,
// returning the removed tasks so the caller can finish their tracking.
func (q *tierQueue) removePending(match func(*Task) bool) []*Task {
	kept := q.pending[:0:0]
	var removed []*Task
	for _, t := range q.pending {
		if match(t) {
			removed = append(removed, t)
		} else {
			kept = append(kept, t)
		}
	}
	q.pending = kept
	return removed
}
