package scheduler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/worph/meta-sort/internal/manifest"
)

// TestBackgroundWaitsForFastIdle asserts the priority-inversion guard:
// a background task must not be picked up while the fast tier still
// has waiting or running work.
func TestBackgroundWaitsForFastIdle(t *testing.T) {
	release := make(chan struct{})
	var backgroundDispatched atomic.Bool

	fastWorker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})
		<-release // hold the fast task "running" until the test allows it to finish
	}))
	defer fastWorker.Close()

	bgWorker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backgroundDispatched.Store(true)
		var req processRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})
	}))
	defer bgWorker.Close()

	manifests := []manifest.Manifest{
		{ID: "fast", DefaultQueue: manifest.Fast},
		{ID: "bg", DefaultQueue: manifest.Background},
	}
	selector := newFakeSelector(manifests, map[string][]WorkerInstanceRef{
		"fast": {{Name: "fast-0", BaseURL: fastWorker.URL}},
		"bg":   {{Name: "bg-0", BaseURL: bgWorker.URL}},
	})

	sched := New(Config{FastConcurrency: 1, BackgroundConcurrency: 1}, selector, fakeMeta{}, nil)
	sched.Start()
	defer sched.Stop()

	fastTask := sched.CreateTask("fast", "file-fast", "/f.jpg", nil, manifest.Fast, nil)
	sched.EnqueueTask(fastTask)

	// Give the pump time to pick up the fast task and have the worker
	// hold it open via `release`.
	time.Sleep(200 * time.Millisecond)

	bgTask := sched.CreateTask("bg", "file-bg", "/b.jpg", nil, manifest.Background, nil)
	sched.EnqueueTask(bgTask)

	time.Sleep(200 * time.Millisecond)
	if backgroundDispatched.Load() {
		t.Fatal("background task dispatched while fast tier still running")
	}

	// Let the fast task's dispatch complete, then deliver its callback
	// so the fast tier actually goes idle.
	close(release)
	time.Sleep(200 * time.Millisecond)
	sched.HandleCallback(Callback{TaskID: fastTask.ID, PluginID: "fast", Status: CallbackCompleted})

	deadline := time.Now().Add(2 * time.Second)
	for !backgroundDispatched.Load() {
		if time.Now().After(deadline) {
			t.Fatal("expected background task to dispatch once fast tier went idle")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
