// Package scheduler implements the two-tier cooperative task
// scheduler: it fans plugin work out to remote workers over HTTP,
// waits for asynchronous callbacks, enforces per-file dependency
// ordering through a completion fence, and emits file:complete once
// every task for a file is terminal.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/worph/meta-sort/internal/manifest"
	"github.com/worph/meta-sort/internal/observability"
)

// Config sizes the scheduler's queues and timeouts. Zero values are
// replaced with the documented defaults by New.
type Config struct {
	FastConcurrency          int
	BackgroundConcurrency    int
	FastThresholdMs          int64
	MinClassifySamples       int
	DefaultCallbackTimeoutMs int64
	DispatchTimeoutMs        int64
	DependencyTimeoutMs      int64
	DrainPollMs              int64
	CallbackBaseURL          string
	MetaCoreURL              string
	// MaxPendingPerTier caps each tier's backlog of not-yet-running
	// tasks; zero leaves it unbounded.
	MaxPendingPerTier int
}

func (c Config) withDefaults() Config {
	if c.FastConcurrency == 0 {
		c.FastConcurrency = 32
	}
	if c.BackgroundConcurrency == 0 {
		c.BackgroundConcurrency = 8
	}
	if c.FastThresholdMs == 0 {
		c.FastThresholdMs = 1000
	}
	if c.MinClassifySamples == 0 {
		c.MinClassifySamples = 10
	}
	if c.DefaultCallbackTimeoutMs == 0 {
		c.DefaultCallbackTimeoutMs = 60000
	}
	if c.DispatchTimeoutMs == 0 {
		c.DispatchTimeoutMs = 10000
	}
	if c.DependencyTimeoutMs == 0 {
		c.DependencyTimeoutMs = 30000
	}
	if c.DrainPollMs == 0 {
		c.DrainPollMs = 500
	}
	return c
}

type pendingCallback struct {
	timer *time.Timer
}

// Scheduler is the process-wide component owning Task and
// CompletionFence state. Construct and Stop it deterministically; it
// holds no package-level globals.
type Scheduler struct {
	cfg Config

	mu               sync.Mutex
	cond             *sync.Cond
	tasks            map[string]*Task
	tasksByFile      map[string]map[string]struct{}
	manifests        map[string]manifest.Manifest
	pendingCallbacks map[string]*pendingCallback
	fast             *tierQueue
	bg               *tierQueue
	stopping         bool

	fence      *fence
	gate       *gateController
	classifier *classifier
	bus        *Bus

	selector InstanceSelector
	meta     MetadataStore

	httpClient *http.Client
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New constructs a Scheduler. Call Start to begin the dispatch pump.
// A nil bus gets a fresh one; pass a shared bus when other components
// (the worker manager, the pipeline) emit or consume the same event
// stream.
func New(cfg Config, selector InstanceSelector, meta MetadataStore, bus *Bus) *Scheduler {
	cfg = cfg.withDefaults()
	if bus == nil {
		bus = NewBus()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:              cfg,
		tasks:            make(map[string]*Task),
		tasksByFile:      make(map[string]map[string]struct{}),
		manifests:        make(map[string]manifest.Manifest),
		pendingCallbacks: make(map[string]*pendingCallback),
		fast:             newTierQueueBounded(cfg.FastConcurrency, cfg.MaxPendingPerTier),
		bg:               newTierQueueBounded(cfg.BackgroundConcurrency, cfg.MaxPendingPerTier),
		fence:            newFence(),
		gate:             newGateController(),
		classifier:       newClassifier(),
		bus:              bus,
		selector:         selector,
		meta:             meta,
		httpClient:       &http.Client{},
		baseCtx:          ctx,
		cancelBase:       cancel,
	}
	s.cond = sync.NewCond(&s.mu)
	observability.GateState.Set(1)
	return s
}

// Events returns a channel of scheduling events for the given buffer size.
func (s *Scheduler) Events(buffer int) <-chan Event {
	return s.bus.Subscribe(buffer)
}

// Bus exposes the scheduler's event bus so collaborators constructed
// around it can emit onto the same stream.
func (s *Scheduler) Bus() *Bus { return s.bus }

// Start launches the pump loop that drains the fast and background
// tiers under their concurrency budgets.
func (s *Scheduler) Start() {
	go s.pump()
}

// Stop rejects all pending callback futures and halts the pump. It
// does not attempt to cancel in-flight HTTP dispatches; any callback
// that later arrives for a reaped task is dropped by handleCallback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopping = true
	for id, pc := range s.pendingCallbacks {
		pc.timer.Stop()
		delete(s.pendingCallbacks, id)
	}
	s.mu.Unlock()
	s.cancelBase()
	s.cond.Broadcast()
}

// createTask assigns a uuid, registers the task under fileHash, and
// emits task:created. It does not place the task on a queue.
func (s *Scheduler) createTask(pluginID, fileHash, filePath string, deps []string, queue manifest.Queue, options map[string]any) *Task {
	t := &Task{
		ID:           uuid.NewString(),
		FileHash:     fileHash,
		FilePath:     filePath,
		PluginID:     pluginID,
		Dependencies: deps,
		Queue:        queue,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
		Options:      options,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	if s.tasksByFile[fileHash] == nil {
		s.tasksByFile[fileHash] = make(map[string]struct{})
	}
	s.tasksByFile[fileHash][t.ID] = struct{}{}
	s.mu.Unlock()

	s.bus.Emit(Event{Type: EventTaskCreated, TaskID: t.ID, PluginID: t.PluginID, FileHash: fileHash, FilePath: filePath})
	return t
}

// enqueueTask pushes the task onto its queue. It returns ErrGateClosed
// if the gate is shut (the task is untracked) and ErrQueueFull if the
// target tier's backlog is at its configured cap (the task is left
// tracked as pending so a caller may retry the same Task later).
func (s *Scheduler) enqueueTask(t *Task) error {
	if !s.gate.isOpen() {
		s.mu.Lock()
		delete(s.tasks, t.ID)
		if set := s.tasksByFile[t.FileHash]; set != nil {
			delete(set, t.ID)
			if len(set) == 0 {
				delete(s.tasksByFile, t.FileHash)
			}
		}
		s.mu.Unlock()
		return ErrGateClosed
	}

	s.mu.Lock()
	tier := s.tierFor(t.Queue)
	if tier.full() {
		s.mu.Unlock()
		return ErrQueueFull
	}
	tier.push(t)
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

// dispatchAll creates one task per active plugin whose Filter matches
// the file, and enqueues each, honoring the manifest's declared
// dependencies and the rolling-mean classifier for queue placement.
func (s *Scheduler) dispatchAll(fileHash, filePath string, size int64, mime string, existingMeta map[string]any) []*Task {
	manifests := s.selector.ActiveManifests()

	s.mu.Lock()
	for _, m := range manifests {
		s.manifests[m.ID] = m
	}
	s.mu.Unlock()

	created := make([]*Task, 0, len(manifests))
	for _, m := range manifests {
		if !m.Filter.Matches(filePath, size, mime) {
			continue
		}
		q := s.classifier.queueFor(m, s.cfg.MinClassifySamples, s.cfg.FastThresholdMs)
		opts := map[string]any{}
		if existingMeta != nil {
			opts["existingMeta"] = existingMeta
		}
		t := s.createTask(m.ID, fileHash, filePath, m.Dependencies, q, opts)
		if err := s.enqueueTask(t); err == nil {
			created = append(created, t)
		} else {
			log.Printf("scheduler: enqueue of task %s (plugin %s) for %s rejected: %v", t.ID, t.PluginID, filePath, err)
		}
	}
	return created
}

func (s *Scheduler) tierFor(q manifest.Queue) *tierQueue {
	if q == manifest.Background {
		return s.bg
	}
	return s.fast
}

// pump drains the fast tier up to its concurrency budget, and drains
// the background tier only while the fast tier is fully idle —
// priority without preemption.
func (s *Scheduler) pump() {
	for {
		s.mu.Lock()
		for {
			if s.stopping {
				s.mu.Unlock()
				return
			}
			fastReady := s.fast.hasCapacity()
			bgReady := s.bg.hasCapacity() && s.fast.idle()
			if fastReady || bgReady {
				break
			}
			s.cond.Wait()
		}

		var t *Task
		var tier *tierQueue
		if s.fast.hasCapacity() {
			t, tier = s.fast.pop(), s.fast
		} else {
			t, tier = s.bg.pop(), s.bg
		}
		fw, fr := s.fast.stats()
		bw, br := s.bg.stats()
		s.mu.Unlock()

		observability.QueueDepth.WithLabelValues("fast", "waiting").Set(float64(fw))
		observability.QueueDepth.WithLabelValues("fast", "running").Set(float64(fr))
		observability.QueueDepth.WithLabelValues("background", "waiting").Set(float64(bw))
		observability.QueueDepth.WithLabelValues("background", "running").Set(float64(br))
		observability.AdmissionWaitSeconds.Observe(time.Since(t.CreatedAt).Seconds())

		s.bus.Emit(Event{Type: EventQueueDepth, Queue: "fast", Waiting: fw, Running: fr})
		s.bus.Emit(Event{Type: EventQueueDepth, Queue: "background", Waiting: bw, Running: br})

		go s.runDispatch(t, tier)
	}
}

// runDispatch executes the dispatch algorithm for a single task:
// dependency fence wait, healthy-instance selection, the /process
// POST, and pending-callback registration.
func (s *Scheduler) runDispatch(t *Task, tier *tierQueue) {
	if len(t.Dependencies) > 0 {
		s.mu.Lock()
		t.Status = StatusWaiting
		s.mu.Unlock()
		s.bus.Emit(Event{Type: EventTaskWaiting, TaskID: t.ID, PluginID: t.PluginID, FileHash: t.FileHash})

		ctx, cancel := context.WithTimeout(s.baseCtx, time.Duration(s.cfg.DependencyTimeoutMs)*time.Millisecond)
	depLoop:
		for _, dep := range t.Dependencies {
			select {
			case <-s.fence.wait(t.FileHash, dep):
			case <-ctx.Done():
				log.Printf("scheduler: dependency wait timed out for task %s (plugin %s) on dep %s, proceeding with stale metadata", t.ID, t.PluginID, dep)
				observability.FenceWaitTimeouts.WithLabelValues(t.PluginID, dep).Inc()
				break depLoop
			}
		}
		cancel()

		// cancelFile wakes waiters through fence.clear; a task cancelled
		// while it waited only releases its running slot.
		s.mu.Lock()
		cancelled := t.Status == StatusCancelled
		s.mu.Unlock()
		if cancelled {
			s.finalizeTask(t, tier, StatusCancelled, "cancelled")
			return
		}
	}

	instance, ok := s.selector.SelectHealthy(t.PluginID)
	if !ok {
		observability.DispatchDecisions.WithLabelValues(t.PluginID, "no_healthy_instance").Inc()
		s.finalizeTask(t, tier, StatusFailed, ErrNoHealthyInstance.Error())
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, time.Duration(s.cfg.DispatchTimeoutMs)*time.Millisecond)
	defer cancel()

	if err := s.selector.Wait(ctx, t.PluginID, instance.Name); err != nil {
		observability.DispatchDecisions.WithLabelValues(t.PluginID, "rate_limited").Inc()
		s.finalizeTask(t, tier, StatusFailed, "dispatch rate limit: "+err.Error())
		return
	}

	s.mu.Lock()
	t.Status = StatusDispatched
	t.DispatchedAt = time.Now()
	t.InstanceName = instance.Name
	s.mu.Unlock()
	s.bus.Emit(Event{Type: EventTaskDispatched, TaskID: t.ID, PluginID: t.PluginID, FileHash: t.FileHash})

	// Latest store contents win so work persisted by just-settled
	// dependencies is visible; the metadata attached at creation time
	// is only a fallback.
	existingMeta, ok := s.meta.Get(t.FileHash)
	if !ok {
		if em, has := t.Options["existingMeta"].(map[string]any); has {
			existingMeta = em
		}
	}

	body, err := json.Marshal(processRequest{
		TaskID:       t.ID,
		CID:          t.FileHash,
		FilePath:     t.FilePath,
		CallbackURL:  s.cfg.CallbackBaseURL,
		MetaCoreURL:  s.cfg.MetaCoreURL,
		ExistingMeta: existingMeta,
	})
	if err != nil {
		s.finalizeTask(t, tier, StatusFailed, err.Error())
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instance.BaseURL+"/process", bytes.NewReader(body))
	if err != nil {
		s.finalizeTask(t, tier, StatusFailed, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		observability.DispatchDecisions.WithLabelValues(t.PluginID, "dispatch_error").Inc()
		s.finalizeTask(t, tier, StatusFailed, err.Error())
		return
	}
	var parsed processResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
	resp.Body.Close()
	if decodeErr != nil || parsed.Status != "accepted" {
		observability.DispatchDecisions.WithLabelValues(t.PluginID, "rejected").Inc()
		s.finalizeTask(t, tier, StatusFailed, "worker did not accept task")
		return
	}
	observability.DispatchDecisions.WithLabelValues(t.PluginID, "accepted").Inc()
	observability.InstanceSelections.WithLabelValues(t.PluginID, instance.Name).Inc()

	s.mu.Lock()
	m := s.manifests[t.PluginID]
	s.mu.Unlock()
	timeoutMs := m.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = s.cfg.DefaultCallbackTimeoutMs
	}
	s.registerPendingCallback(t, tier, time.Duration(timeoutMs)*time.Millisecond)
}

func (s *Scheduler) registerPendingCallback(t *Task, tier *tierQueue, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		_, still := s.pendingCallbacks[t.ID]
		delete(s.pendingCallbacks, t.ID)
		s.mu.Unlock()
		if !still {
			return
		}
		s.bus.Emit(Event{Type: EventTaskTimeout, TaskID: t.ID, PluginID: t.PluginID, FileHash: t.FileHash})
		s.finalizeTask(t, tier, StatusTimeout, "callback timeout")
	})

	s.mu.Lock()
	s.pendingCallbacks[t.ID] = &pendingCallback{timer: timer}
	s.mu.Unlock()
}

// handleCallback matches a worker's reply to its outstanding task. A
// callback for an unknown or already-terminal task is dropped and
// ErrUnknownTask is returned in both cases.
func (s *Scheduler) handleCallback(cb Callback) error {
	s.mu.Lock()
	t, ok := s.tasks[cb.TaskID]
	if !ok {
		s.mu.Unlock()
		observability.CallbacksDropped.WithLabelValues("unknown_task").Inc()
		log.Printf("scheduler: callback for unknown task %s dropped", cb.TaskID)
		return ErrUnknownTask
	}
	if t.Status.Terminal() {
		s.mu.Unlock()
		observability.CallbacksDropped.WithLabelValues("already_terminal").Inc()
		return ErrUnknownTask
	}
	if pc, has := s.pendingCallbacks[cb.TaskID]; has {
		pc.timer.Stop()
		delete(s.pendingCallbacks, cb.TaskID)
	}
	s.mu.Unlock()

	status := StatusCompleted
	errMsg := ""
	if cb.Status == CallbackFailed || cb.Status == CallbackSkipped {
		status = StatusFailed
		errMsg = cb.Error
		if errMsg == "" {
			errMsg = cb.Reason
		}
	}
	s.finalizeTask(t, s.tierFor(t.Queue), status, errMsg)
	return nil
}

// finalizeTask moves a task to a terminal status exactly once,
// settles its fence entry, records classifier/health feedback, and
// checks whether the owning file is now fully complete.
func (s *Scheduler) finalizeTask(t *Task, tier *tierQueue, status Status, errMsg string) {
	s.mu.Lock()
	if t.Status.Terminal() {
		tier.finish(t.ID)
		s.mu.Unlock()
		s.cond.Broadcast()
		return
	}
	t.Status = status
	t.Err = errMsg
	t.CompletedAt = time.Now()
	if !t.DispatchedAt.IsZero() {
		t.DurationMs = t.CompletedAt.Sub(t.DispatchedAt).Milliseconds()
	}
	tier.finish(t.ID)

	allTerminal := true
	for id := range s.tasksByFile[t.FileHash] {
		if !s.tasks[id].Status.Terminal() {
			allTerminal = false
			break
		}
	}
	if allTerminal {
		// The whole task set is reaped with the file; a late duplicate
		// callback then resolves as unknown-task and is dropped.
		for id := range s.tasksByFile[t.FileHash] {
			delete(s.tasks, id)
		}
		delete(s.tasksByFile, t.FileHash)
	}
	s.mu.Unlock()

	if t.DurationMs > 0 {
		s.classifier.record(t.PluginID, t.DurationMs)
	}
	s.selector.RecordOutcome(t.PluginID, t.InstanceName, status == StatusCompleted)
	s.fence.settle(t.FileHash, t.PluginID)
	observability.TaskRuntimeSeconds.WithLabelValues(t.PluginID, string(status)).Observe(float64(t.DurationMs) / 1000)

	evType := EventTaskCompleted
	switch status {
	case StatusFailed:
		evType = EventTaskFailed
	case StatusTimeout:
		evType = EventTaskTimeout
	}
	s.bus.Emit(Event{Type: evType, TaskID: t.ID, PluginID: t.PluginID, FileHash: t.FileHash, Reason: errMsg})

	if allTerminal {
		s.fence.clear(t.FileHash)
		observability.FilesCompleted.Inc()
		s.bus.Emit(Event{Type: EventFileComplete, FileHash: t.FileHash, FilePath: t.FilePath})
	}
	s.cond.Broadcast()
}

// cancelFile cancels every non-terminal task for fileHash and clears
// its fence. In-flight dispatches are cancelled best-effort: the
// worker's HTTP POST may still complete, but a callback arriving after
// this call is dropped because the task is already terminal.
func (s *Scheduler) cancelFile(fileHash string) {
	s.mu.Lock()
	ids := s.tasksByFile[fileHash]
	var cancelled []*Task
	for id := range ids {
		t := s.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		t.Status = StatusCancelled
		t.Err = "cancelled"
		t.CompletedAt = time.Now()
		if pc, has := s.pendingCallbacks[id]; has {
			pc.timer.Stop()
			delete(s.pendingCallbacks, id)
		}
		cancelled = append(cancelled, t)
	}
	s.fast.removePending(func(t *Task) bool { return t.FileHash == fileHash })
	s.bg.removePending(func(t *Task) bool { return t.FileHash == fileHash })
	for id := range ids {
		delete(s.tasks, id)
	}
	delete(s.tasksByFile, fileHash)
	s.mu.Unlock()

	for _, t := range cancelled {
		s.bus.Emit(Event{Type: EventTaskFailed, TaskID: t.ID, PluginID: t.PluginID, FileHash: fileHash, Reason: "cancelled"})
	}
	s.fence.clear(fileHash)
	s.cond.Broadcast()
}

// clear rejects every pending callback and cancels every tracked
// file's task set, emptying both tiers.
func (s *Scheduler) clear() {
	s.mu.Lock()
	for id, pc := range s.pendingCallbacks {
		pc.timer.Stop()
		delete(s.pendingCallbacks, id)
	}
	files := make([]string, 0, len(s.tasksByFile))
	for h := range s.tasksByFile {
		files = append(files, h)
	}
	s.mu.Unlock()

	for _, h := range files {
		s.cancelFile(h)
	}
}

func (s *Scheduler) setGate(open bool) {
	s.gate.set(open)
	if open {
		observability.GateState.Set(1)
	} else {
		observability.GateState.Set(0)
	}
}

func (s *Scheduler) isGateOpen() bool { return s.gate.isOpen() }

// waitForEmpty polls at DrainPollMs and returns true once both tiers
// show zero running and zero pending, or false if ms elapses first.
func (s *Scheduler) waitForEmpty(ms int64) bool {
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
	interval := time.Duration(s.cfg.DrainPollMs) * time.Millisecond
	for {
		s.mu.Lock()
		fw, fr := s.fast.stats()
		bw, br := s.bg.stats()
		s.mu.Unlock()
		if fw+fr+bw+br == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// TierStats summarizes the current load on one queue tier.
type TierStats struct {
	Waiting int
	Running int
}

// DispatchedTask is one row of the currently-dispatched task list.
type DispatchedTask struct {
	ID           string
	PluginID     string
	FileHash     string
	FilePath     string
	InstanceName string
	DispatchedAt time.Time
}

type Stats struct {
	Fast             TierStats
	Background       TierStats
	PendingCallbacks int
	PendingTaskCount int
	FilesRunning     int
	FilesWaiting     int
	Dispatched       []DispatchedTask
}

func (s *Scheduler) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	fw, fr := s.fast.stats()
	bw, br := s.bg.stats()

	running := make(map[string]struct{})
	waiting := make(map[string]struct{})
	var dispatched []DispatchedTask
	for _, t := range s.tasks {
		switch t.Status {
		case StatusDispatched:
			running[t.FileHash] = struct{}{}
			dispatched = append(dispatched, DispatchedTask{
				ID:           t.ID,
				PluginID:     t.PluginID,
				FileHash:     t.FileHash,
				FilePath:     t.FilePath,
				InstanceName: t.InstanceName,
				DispatchedAt: t.DispatchedAt,
			})
		case StatusPending, StatusWaiting:
			waiting[t.FileHash] = struct{}{}
		}
	}

	return Stats{
		Fast:             TierStats{Waiting: fw, Running: fr},
		Background:       TierStats{Waiting: bw, Running: br},
		PendingCallbacks: len(s.pendingCallbacks),
		PendingTaskCount: len(s.tasks),
		FilesRunning:     len(running),
		FilesWaiting:     len(waiting),
		Dispatched:       dispatched,
	}
}

// Exported surface. Kept thin: every exported method forwards to the
// lowercase operation named in the dispatch algorithm so the package's
// internal call sites (dispatchAll, clear) share the same code path as
// external callers (the pipeline, the callback-ingress handler, the
// admin surface).

// CreateTask assigns a uuid, registers the task under fileHash, and
// emits task:created without enqueuing it.
func (s *Scheduler) CreateTask(pluginID, fileHash, filePath string, deps []string, queue manifest.Queue, options map[string]any) *Task {
	return s.createTask(pluginID, fileHash, filePath, deps, queue, options)
}

// EnqueueTask pushes the task onto its queue, or rejects it (without
// error detail, a signalling result rather than a failure) if the gate
// is closed or the tier's backlog is full.
func (s *Scheduler) EnqueueTask(t *Task) bool { return s.enqueueTask(t) == nil }

// DispatchAll creates and enqueues one task per active plugin whose
// Filter matches the file's path, size, and mime type.
func (s *Scheduler) DispatchAll(fileHash, filePath string, size int64, mime string, existingMeta map[string]any) []*Task {
	return s.dispatchAll(fileHash, filePath, size, mime, existingMeta)
}

// HandleCallback matches a worker reply to its outstanding task,
// reporting whether the task was found and still pending.
func (s *Scheduler) HandleCallback(cb Callback) bool { return s.handleCallback(cb) == nil }

// CancelFile cancels every non-terminal task for fileHash.
func (s *Scheduler) CancelFile(fileHash string) { s.cancelFile(fileHash) }

// Clear rejects all pending callbacks and cancels every tracked task.
func (s *Scheduler) Clear() { s.clear() }

// SetGate opens or closes the admission gate.
func (s *Scheduler) SetGate(open bool) { s.setGate(open) }

// IsGateOpen reports the current admission gate state.
func (s *Scheduler) IsGateOpen() bool { return s.isGateOpen() }

// GetGateStatus is an alias of IsGateOpen kept for callers that prefer
// the explicit getter name used by the admission API.
func (s *Scheduler) GetGateStatus() bool { return s.isGateOpen() }

// WaitForEmpty polls until both tiers are empty or ms elapses.
func (s *Scheduler) WaitForEmpty(ms int64) bool { return s.waitForEmpty(ms) }

// Stats returns the current queue depths and pending-callback count.
func (s *Scheduler) Stats() Stats { return s.stats() }
