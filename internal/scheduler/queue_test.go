package scheduler

import "testing"

func TestTierQueueCapacityAndIdle(t *testing.T) {
	q := newTierQueue(2)
	if !q.idle() {
		t.Fatal("expected empty queue to be idle")
	}

	t1 := &Task{ID: "t1"}
	t2 := &Task{ID: "t2"}
	t3 := &Task{ID: "t3"}
	q.push(t1)
	q.push(t2)
	q.push(t3)

	if !q.hasCapacity() {
		t.Fatal("expected capacity with 0 running, concurrency 2")
	}

	popped := q.pop()
	if popped.ID != "t1" {
		t.Fatalf("expected FIFO order, got %s", popped.ID)
	}
	if q.idle() {
		t.Fatal("expected queue with a running task not to be idle")
	}

	q.pop() // t2, now running == concurrency
	if q.hasCapacity() {
		t.Fatal("expected no capacity once running reaches concurrency")
	}

	q.finish("t1")
	if !q.hasCapacity() {
		t.Fatal("expected capacity to free up after finish")
	}
}

func TestTierQueueRemovePending(t *testing.T) {
	q := newTierQueue(4)
	q.push(&Task{ID: "a", FileHash: "f1"})
	q.push(&Task{ID: "b", FileHash: "f2"})
	q.push(&Task{ID: "c", FileHash: "f1"})

	removed := q.removePending(func(t *Task) bool { return t.FileHash == "f1" })
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed tasks, got %d", len(removed))
	}
	if len(q.pending) != 1 || q.pending[0].ID != "b" {
		t.Fatalf("expected only task b to remain pending, got %v", q.pending)
	}
}
