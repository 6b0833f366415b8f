package notify

import (
	"testing"
	"time"
)

func TestPublishDedupsByHashLastWriteWins(t *testing.T) {
	h := NewHub(time.Hour)

	h.Publish("add", "h1")
	h.Publish("remove", "h1")
	h.Publish("add", "h2")

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) != 2 {
		t.Fatalf("expected 2 deduplicated entries, got %d", len(h.pending))
	}
	if h.pending["h1"] != "remove" {
		t.Fatalf("expected last write to win for h1, got %s", h.pending["h1"])
	}
}

func TestFlushClearsPending(t *testing.T) {
	h := NewHub(time.Hour)
	h.Publish("add", "h1")

	h.flush()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) != 0 {
		t.Fatalf("expected pending buffer cleared after flush, %d left", len(h.pending))
	}
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	h := NewHub(time.Hour)
	h.flush()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) != 0 {
		t.Fatalf("expected empty buffer to stay empty, got %d", len(h.pending))
	}
}
