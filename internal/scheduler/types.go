package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/worph/meta-sort/internal/manifest"
)

// Status is a Task's point in its terminal-state lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusDispatched Status = "dispatched"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether status is one of the fence-settling states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is owned exclusively by the Scheduler.
type Task struct {
	ID           string
	FileHash     string
	FilePath     string
	PluginID     string
	Dependencies []string
	Queue        manifest.Queue
	Status       Status
	CreatedAt    time.Time
	DispatchedAt time.Time
	CompletedAt  time.Time
	DurationMs   int64
	InstanceName string
	Err          string
	Options      map[string]any
}

// Callback is the worker-initiated termination signal matched by taskId.
type Callback struct {
	TaskID     string `json:"taskId"`
	PluginID   string `json:"pluginId"`
	CID        string `json:"cid"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

const (
	CallbackCompleted = "completed"
	CallbackFailed    = "failed"
	CallbackSkipped   = "skipped"
)

var (
	ErrQueueFull         = errors.New("scheduler: queue full")
	ErrGateClosed        = errors.New("scheduler: gate closed")
	ErrNoHealthyInstance = errors.New("scheduler: no healthy instance")
	ErrUnknownTask       = errors.New("scheduler: unknown task")
)

// WorkerInstanceRef is the minimal addressable view of a worker instance
// the scheduler needs: enough to dispatch, nothing about its health
// bookkeeping (that stays owned by the worker manager).
type WorkerInstanceRef struct {
	Name    string
	BaseURL string
}

// InstanceSelector is the WorkerManager capability the Scheduler
// consumes, declared at the consumer and narrowed to the calls it
// actually makes.
type InstanceSelector interface {
	SelectHealthy(pluginID string) (WorkerInstanceRef, bool)
	RecordOutcome(pluginID, instanceName string, ok bool)
	ActiveManifests() []manifest.Manifest
	// Wait blocks until the instance's per-replica dispatch limiter
	// admits one more request, or ctx is cancelled first.
	Wait(ctx context.Context, pluginID, instanceName string) error
}

// MetadataStore is the external collaborator holding already-extracted
// metadata for a file, consulted before every dispatch so that
// just-settled dependencies are visible to their descendants.
type MetadataStore interface {
	Get(fileHash string) (map[string]any, bool)
}
