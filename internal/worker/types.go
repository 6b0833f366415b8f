// Package worker owns the population of plugin worker instances: it
// spawns them, probes their health, round-robins across the healthy
// set, and fetches each plugin's manifest.
package worker

import (
	"sync"
	"time"

	"github.com/worph/meta-sort/internal/manifest"
	"golang.org/x/time/rate"
)

// Status is a WorkerInstance's point in its spawn/health lifecycle.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Instance is one network-addressable replica of a plugin.
type Instance struct {
	mu sync.Mutex

	PluginID     string
	InstanceName string
	BaseURL      string
	Index        int
	Status       Status
	Manifest     *manifest.Manifest
	LastHealthAt time.Time
	TasksOK      int64
	TasksFail    int64

	containerID  string
	healthStreak int
	limiter      *rate.Limiter
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	i.Status = s
	i.mu.Unlock()
}

func (i *Instance) getStatus() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.Status
}

// PluginConfig is the static configuration WorkerManager needs to
// spawn a plugin's instances.
type PluginConfig struct {
	ID        string
	Image     string
	Instances int
	Port      int
	Env       map[string]string
	Config    map[string]any
	Mounts    []Mount
}

// Mount is a host directory bind-mounted into a worker container, so a
// plugin can read the file at the path it is handed without the
// control plane having to ship file bytes over HTTP.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec describes one worker container to spawn.
type ContainerSpec struct {
	Image  string
	Name   string
	Labels map[string]string
	Env    map[string]string
	Port   int
	Mounts []Mount
}
