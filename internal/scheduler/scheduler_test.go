package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/worph/meta-sort/internal/manifest"
)

type fakeSelector struct {
	mu        sync.Mutex
	instances map[string][]WorkerInstanceRef
	manifests []manifest.Manifest
	rr        map[string]int
	outcomes  []string
}

func newFakeSelector(manifests []manifest.Manifest, instances map[string][]WorkerInstanceRef) *fakeSelector {
	return &fakeSelector{instances: instances, manifests: manifests, rr: make(map[string]int)}
}

func (f *fakeSelector) SelectHealthy(pluginID string) (WorkerInstanceRef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pool := f.instances[pluginID]
	if len(pool) == 0 {
		return WorkerInstanceRef{}, false
	}
	idx := f.rr[pluginID] % len(pool)
	f.rr[pluginID]++
	return pool[idx], true
}

func (f *fakeSelector) RecordOutcome(pluginID, instanceName string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, pluginID+":"+instanceName)
}

func (f *fakeSelector) ActiveManifests() []manifest.Manifest { return f.manifests }

func (f *fakeSelector) Wait(ctx context.Context, pluginID, instanceName string) error { return nil }

type fakeMeta struct{}

func (fakeMeta) Get(fileHash string) (map[string]any, bool) { return nil, false }

func waitForEvent(t *testing.T, ch <-chan Event, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// newAcceptingWorker returns an httptest.Server that accepts every
// /process call and immediately posts a completed callback to the
// request's callbackUrl.
func newAcceptingWorker(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})

		go func() {
			body, _ := json.Marshal(Callback{TaskID: req.TaskID, PluginID: "a", Status: CallbackCompleted, DurationMs: 1})
			http.Post(req.CallbackURL, "application/json", bytes.NewReader(body))
		}()
	}))
	return srv
}

func TestHappyPathEmitsFileComplete(t *testing.T) {
	worker := newAcceptingWorker(t)
	defer worker.Close()

	var sched *Scheduler
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cb Callback
		json.NewDecoder(r.Body).Decode(&cb)
		sched.HandleCallback(cb)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer callback.Close()

	manifests := []manifest.Manifest{{ID: "a", DefaultQueue: manifest.Fast}}
	selector := newFakeSelector(manifests, map[string][]WorkerInstanceRef{
		"a": {{Name: "a-0", BaseURL: worker.URL}},
	})

	sched = New(Config{CallbackBaseURL: callback.URL}, selector, fakeMeta{}, nil)
	sched.Start()
	defer sched.Stop()

	events := sched.Events(16)
	sched.DispatchAll("hash1", "/f1.jpg", 100, "image/jpeg", nil)

	waitForEvent(t, events, EventFileComplete, 2*time.Second)
}

func TestGateClosedRejectsEnqueue(t *testing.T) {
	selector := newFakeSelector(nil, nil)
	sched := New(Config{}, selector, fakeMeta{}, nil)
	sched.Start()
	defer sched.Stop()

	sched.SetGate(false)
	task := sched.CreateTask("a", "hash1", "/f1.jpg", nil, manifest.Fast, nil)
	if sched.EnqueueTask(task) {
		t.Fatal("expected enqueue to be rejected while gate is closed")
	}

	sched.SetGate(true)
	task2 := sched.CreateTask("a", "hash1", "/f1.jpg", nil, manifest.Fast, nil)
	if !sched.EnqueueTask(task2) {
		t.Fatal("expected enqueue to succeed once gate reopens")
	}
}

func TestNoHealthyInstanceFailsTaskAndCompletesFile(t *testing.T) {
	manifests := []manifest.Manifest{{ID: "a", DefaultQueue: manifest.Fast}}
	selector := newFakeSelector(manifests, nil) // no instances registered

	sched := New(Config{}, selector, fakeMeta{}, nil)
	sched.Start()
	defer sched.Stop()

	events := sched.Events(16)
	sched.DispatchAll("hash1", "/f1.jpg", 100, "image/jpeg", nil)

	e := waitForEvent(t, events, EventTaskFailed, 2*time.Second)
	if e.Reason != ErrNoHealthyInstance.Error() {
		t.Fatalf("expected %q reason, got %q", ErrNoHealthyInstance.Error(), e.Reason)
	}
	waitForEvent(t, events, EventFileComplete, 2*time.Second)
}

func TestHandleCallbackDropsUnknownTask(t *testing.T) {
	sched := New(Config{}, newFakeSelector(nil, nil), fakeMeta{}, nil)
	if sched.HandleCallback(Callback{TaskID: "does-not-exist", Status: CallbackCompleted}) {
		t.Fatal("expected callback for unknown task to be dropped")
	}
	if err := sched.handleCallback(Callback{TaskID: "does-not-exist", Status: CallbackCompleted}); err != ErrUnknownTask {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestEnqueueTaskRejectsOnceTierBacklogIsFull(t *testing.T) {
	sched := New(Config{MaxPendingPerTier: 1}, newFakeSelector(nil, nil), fakeMeta{}, nil)

	t1 := sched.CreateTask("a", "hash1", "/f1.jpg", nil, manifest.Fast, nil)
	if err := sched.enqueueTask(t1); err != nil {
		t.Fatalf("expected first enqueue to succeed, got %v", err)
	}

	t2 := sched.CreateTask("a", "hash2", "/f2.jpg", nil, manifest.Fast, nil)
	if err := sched.enqueueTask(t2); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull once the fast tier's backlog is at capacity, got %v", err)
	}
}

func TestDispatchAllSkipsPluginsWhoseFilterDoesNotMatch(t *testing.T) {
	manifests := []manifest.Manifest{
		{ID: "images", DefaultQueue: manifest.Fast, Filter: manifest.Filter{Ext: []string{"jpg"}}},
		{ID: "videos", DefaultQueue: manifest.Fast, Filter: manifest.Filter{Ext: []string{"mp4"}}},
	}
	selector := newFakeSelector(manifests, nil)
	sched := New(Config{}, selector, fakeMeta{}, nil)

	created := sched.dispatchAll("hash1", "/f1.jpg", 100, "image/jpeg", nil)
	if len(created) != 1 || created[0].PluginID != "images" {
		t.Fatalf("expected only the images plugin to match a .jpg file, got %v", created)
	}
}

// TestDependencyOrdering dispatches plugin c, which depends on b, and
// asserts c's /process request only arrives after b has posted its
// callback.
func TestDependencyOrdering(t *testing.T) {
	var sched *Scheduler
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cb Callback
		json.NewDecoder(r.Body).Decode(&cb)
		sched.HandleCallback(cb)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer callback.Close()

	var bDone, violated atomic.Bool
	postCallback := func(taskID string) {
		body, _ := json.Marshal(Callback{TaskID: taskID, Status: CallbackCompleted, DurationMs: 1})
		http.Post(callback.URL, "application/json", bytes.NewReader(body))
	}

	bWorker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})
		go func() {
			bDone.Store(true)
			postCallback(req.TaskID)
		}()
	}))
	defer bWorker.Close()

	cWorker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !bDone.Load() {
			violated.Store(true)
		}
		var req processRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})
		go postCallback(req.TaskID)
	}))
	defer cWorker.Close()

	manifests := []manifest.Manifest{
		{ID: "b", DefaultQueue: manifest.Fast},
		{ID: "c", DefaultQueue: manifest.Fast, Dependencies: []string{"b"}},
	}
	selector := newFakeSelector(manifests, map[string][]WorkerInstanceRef{
		"b": {{Name: "b-0", BaseURL: bWorker.URL}},
		"c": {{Name: "c-0", BaseURL: cWorker.URL}},
	})

	sched = New(Config{CallbackBaseURL: callback.URL}, selector, fakeMeta{}, nil)
	sched.Start()
	defer sched.Stop()

	events := sched.Events(64)
	sched.DispatchAll("hash1", "/f1.jpg", 100, "image/jpeg", nil)

	waitForEvent(t, events, EventFileComplete, 5*time.Second)
	if violated.Load() {
		t.Fatal("dependent plugin c was dispatched before b settled")
	}
}

// TestDrain closes the gate with work in flight: new enqueues are
// rejected, in-flight tasks still finish, and waitForEmpty reports a
// fully drained scheduler.
func TestDrain(t *testing.T) {
	var sched *Scheduler
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cb Callback
		json.NewDecoder(r.Body).Decode(&cb)
		sched.HandleCallback(cb)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer callback.Close()

	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})
		go func() {
			time.Sleep(100 * time.Millisecond)
			body, _ := json.Marshal(Callback{TaskID: req.TaskID, Status: CallbackCompleted, DurationMs: 1})
			http.Post(req.CallbackURL, "application/json", bytes.NewReader(body))
		}()
	}))
	defer worker.Close()

	manifests := []manifest.Manifest{{ID: "a", DefaultQueue: manifest.Fast}}
	selector := newFakeSelector(manifests, map[string][]WorkerInstanceRef{
		"a": {{Name: "a-0", BaseURL: worker.URL}},
	})

	sched = New(Config{CallbackBaseURL: callback.URL}, selector, fakeMeta{}, nil)
	sched.Start()
	defer sched.Stop()

	for i := 0; i < 5; i++ {
		sched.DispatchAll("hash"+string(rune('0'+i)), "/f.jpg", 100, "image/jpeg", nil)
	}

	sched.SetGate(false)
	rejected := sched.CreateTask("a", "hash-late", "/late.jpg", nil, manifest.Fast, nil)
	if sched.EnqueueTask(rejected) {
		t.Fatal("expected enqueue to be rejected once the gate closed")
	}

	if !sched.WaitForEmpty(10000) {
		t.Fatal("expected scheduler to drain after the gate closed")
	}
	if n := sched.Stats().PendingTaskCount; n != 0 {
		t.Fatalf("expected every in-flight task to be reaped after drain, %d left", n)
	}
}

// TestSecondCallbackDropped exercises the two-workers-reply-for-one-
// task boundary: the first callback wins, the second is dropped.
func TestSecondCallbackDropped(t *testing.T) {
	accepted := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})
	}))
	defer accepted.Close()

	manifests := []manifest.Manifest{{ID: "a", DefaultQueue: manifest.Fast}}
	selector := newFakeSelector(manifests, map[string][]WorkerInstanceRef{
		"a": {{Name: "a-0", BaseURL: accepted.URL}},
	})

	sched := New(Config{}, selector, fakeMeta{}, nil)
	sched.Start()
	defer sched.Stop()

	events := sched.Events(16)
	tasks := sched.DispatchAll("hash1", "/f1.jpg", 100, "image/jpeg", nil)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}

	waitForEvent(t, events, EventTaskDispatched, 2*time.Second)

	if !sched.HandleCallback(Callback{TaskID: tasks[0].ID, Status: CallbackCompleted}) {
		t.Fatal("expected first callback to be accepted")
	}
	if sched.HandleCallback(Callback{TaskID: tasks[0].ID, Status: CallbackCompleted}) {
		t.Fatal("expected second callback for the same task to be dropped")
	}
}

func TestCancelFileReapsPendingTasks(t *testing.T) {
	sched := New(Config{}, newFakeSelector(nil, nil), fakeMeta{}, nil)
	// The pump is deliberately not started so both tasks stay pending.

	t1 := sched.CreateTask("a", "hash1", "/f1.jpg", nil, manifest.Fast, nil)
	t2 := sched.CreateTask("b", "hash1", "/f1.jpg", nil, manifest.Background, nil)
	sched.EnqueueTask(t1)
	sched.EnqueueTask(t2)

	sched.CancelFile("hash1")

	st := sched.Stats()
	if st.PendingTaskCount != 0 {
		t.Fatalf("expected all tasks reaped after cancel, %d left", st.PendingTaskCount)
	}
	if st.Fast.Waiting+st.Background.Waiting != 0 {
		t.Fatalf("expected no pending queue entries after cancel, got %+v", st)
	}
	if t1.Status != StatusCancelled || t2.Status != StatusCancelled {
		t.Fatalf("expected both tasks cancelled, got %s/%s", t1.Status, t2.Status)
	}
}

func TestClearCancelsEveryTrackedTask(t *testing.T) {
	sched := New(Config{}, newFakeSelector(nil, nil), fakeMeta{}, nil)

	for _, h := range []string{"hash1", "hash2"} {
		task := sched.CreateTask("a", h, "/f.jpg", nil, manifest.Fast, nil)
		sched.EnqueueTask(task)
	}

	sched.Clear()

	st := sched.Stats()
	if st.PendingTaskCount != 0 || st.Fast.Waiting != 0 {
		t.Fatalf("expected a cleared scheduler to be empty, got %+v", st)
	}
}

func TestFenceSettlesOnceAndWakesWaiters(t *testing.T) {
	f := newFence()
	ch := f.wait("file1", "plugin-a")

	select {
	case <-ch:
		t.Fatal("expected waiter not to be resolved before settle")
	default:
	}

	f.settle("file1", "plugin-a")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected waiter to be resolved after settle")
	}

	// settling again must not panic (at-most-once resolution).
	f.settle("file1", "plugin-a")

	already := f.wait("file1", "plugin-a")
	select {
	case <-already:
	default:
		t.Fatal("expected a wait issued after settlement to return a closed channel")
	}
}
