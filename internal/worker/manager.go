package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/worph/meta-sort/internal/manifest"
	"github.com/worph/meta-sort/internal/observability"
	"github.com/worph/meta-sort/internal/scheduler"
	"golang.org/x/time/rate"
)

const (
	labelRole     = "role"
	labelRoleVal  = "plugin"
	labelPluginID = "pluginId"
)

// Manager owns the population of worker instances across all
// configured plugins.
type Manager struct {
	mu        sync.RWMutex
	runtime   ContainerRuntime
	http      *http.Client
	bus       *scheduler.Bus
	plugins   map[string]PluginConfig
	instances map[string][]*Instance
	rrCounter map[string]uint64
	manifests map[string]manifest.Manifest

	probeInterval time.Duration
	probeTimeout  time.Duration

	stopCh chan struct{}
}

// NewManager constructs a Manager. probeInterval/probeTimeout default
// to 30s/5s, matching the worker HTTP contract's health protocol.
func NewManager(runtime ContainerRuntime, bus *scheduler.Bus, probeInterval, probeTimeout time.Duration) *Manager {
	if probeInterval == 0 {
		probeInterval = 30 * time.Second
	}
	if probeTimeout == 0 {
		probeTimeout = 5 * time.Second
	}
	return &Manager{
		runtime:       runtime,
		http:          &http.Client{},
		bus:           bus,
		plugins:       make(map[string]PluginConfig),
		instances:     make(map[string][]*Instance),
		rrCounter:     make(map[string]uint64),
		manifests:     make(map[string]manifest.Manifest),
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		stopCh:        make(chan struct{}),
	}
}

// Initialize ensures N instances exist per plugin, reaps stale
// leftovers by label, waits for at least one healthy instance per
// plugin (up to 30s), and fetches each plugin's manifest. A plugin
// whose image cannot be pulled or spawned is excluded and a
// plugin:error event is emitted; the manager continues with the rest.
func (m *Manager) Initialize(ctx context.Context, plugins []PluginConfig) {
	m.mu.Lock()
	for _, p := range plugins {
		m.plugins[p.ID] = p
	}
	m.mu.Unlock()

	for _, p := range plugins {
		if names, err := m.runtime.ListLabelled(ctx, labelPluginID, p.ID); err == nil {
			for _, name := range names {
				_ = m.runtime.Stop(ctx, name)
				_ = m.runtime.Remove(ctx, name)
			}
		}

		if err := m.runtime.PullImage(ctx, p.Image); err != nil {
			log.Printf("worker: plugin %s image pull failed: %v", p.ID, err)
			m.bus.Emit(scheduler.Event{Type: scheduler.EventPluginError, PluginID: p.ID, Reason: err.Error()})
			continue
		}

		n := p.Instances
		if n <= 0 {
			n = 1
		}
		var spawned []*Instance
		for i := 0; i < n; i++ {
			inst, err := m.spawnOne(ctx, p, i)
			if err != nil {
				log.Printf("worker: plugin %s instance %d spawn failed: %v", p.ID, i, err)
				m.bus.Emit(scheduler.Event{Type: scheduler.EventPluginError, PluginID: p.ID, Reason: err.Error()})
				continue
			}
			spawned = append(spawned, inst)
		}
		if len(spawned) == 0 {
			continue
		}

		m.mu.Lock()
		m.instances[p.ID] = spawned
		m.mu.Unlock()

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		healthy := m.waitForOneHealthy(waitCtx, spawned)
		cancel()
		if !healthy {
			log.Printf("worker: plugin %s had no healthy instance within 30s of startup", p.ID)
			continue
		}

		mf, err := m.fetchManifest(ctx, spawned[0])
		if err != nil {
			log.Printf("worker: plugin %s manifest fetch failed: %v", p.ID, err)
			continue
		}
		m.mu.Lock()
		m.manifests[p.ID] = mf
		for _, inst := range spawned {
			inst.Manifest = &mf
		}
		m.mu.Unlock()

		if p.Config != nil {
			for _, inst := range spawned {
				if err := m.pushConfig(ctx, inst, p.Config); err != nil {
					log.Printf("worker: plugin %s instance %s configure failed: %v", p.ID, inst.InstanceName, err)
				}
			}
		}
	}

	go m.healthLoop()
}

func (m *Manager) spawnOne(ctx context.Context, p PluginConfig, index int) (*Instance, error) {
	name := fmt.Sprintf("meta-plugin-%s-%d", p.ID, index)
	spec := ContainerSpec{
		Image: p.Image,
		Name:  name,
		Labels: map[string]string{
			labelRole:     labelRoleVal,
			labelPluginID: p.ID,
		},
		Env:    p.Env,
		Port:   p.Port,
		Mounts: p.Mounts,
	}
	containerID, err := m.runtime.Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		PluginID:     p.ID,
		InstanceName: name,
		BaseURL:      fmt.Sprintf("http://%s:%d", name, p.Port),
		Index:        index,
		Status:       StatusStarting,
		containerID:  containerID,
		limiter:      rate.NewLimiter(rate.Limit(50), 50),
	}
	return inst, nil
}

func (m *Manager) waitForOneHealthy(ctx context.Context, instances []*Instance) bool {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, inst := range instances {
			if m.probe(ctx, inst) {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Shutdown is idempotent: it stops health probing and stops/removes
// every owned instance, ignoring individual stop errors.
func (m *Manager) Shutdown(ctx context.Context) {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}

	m.mu.Lock()
	all := m.instances
	m.instances = make(map[string][]*Instance)
	m.mu.Unlock()

	for _, instances := range all {
		for _, inst := range instances {
			_ = m.runtime.Stop(ctx, inst.containerID)
			_ = m.runtime.Remove(ctx, inst.containerID)
			inst.setStatus(StatusStopped)
		}
	}
}

// Restart stops every instance of pluginID and respawns it from its
// stored configuration. The shared health-probe loop is not paused;
// the respawned instances start in the starting status and are first
// probed on its next tick.
func (m *Manager) Restart(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	p, ok := m.plugins[pluginID]
	existing := m.instances[pluginID]
	delete(m.instances, pluginID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker: unknown plugin %s", pluginID)
	}

	for _, inst := range existing {
		_ = m.runtime.Stop(ctx, inst.containerID)
		_ = m.runtime.Remove(ctx, inst.containerID)
	}

	n := p.Instances
	if n <= 0 {
		n = 1
	}
	var spawned []*Instance
	for i := 0; i < n; i++ {
		inst, err := m.spawnOne(ctx, p, i)
		if err != nil {
			m.bus.Emit(scheduler.Event{Type: scheduler.EventPluginError, PluginID: pluginID, Reason: err.Error()})
			continue
		}
		spawned = append(spawned, inst)
	}
	m.mu.Lock()
	m.instances[pluginID] = spawned
	m.mu.Unlock()
	return nil
}

// SelectHealthy round-robins across currently-healthy instances,
// recomputing the healthy set at every call since membership changes
// asynchronously with the health probe loop.
func (m *Manager) SelectHealthy(pluginID string) (scheduler.WorkerInstanceRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	instances := m.instances[pluginID]
	var healthy []*Instance
	for _, inst := range instances {
		if inst.getStatus() == StatusHealthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return scheduler.WorkerInstanceRef{}, false
	}

	idx := m.rrCounter[pluginID] % uint64(len(healthy))
	m.rrCounter[pluginID]++
	chosen := healthy[idx]
	return scheduler.WorkerInstanceRef{Name: chosen.InstanceName, BaseURL: chosen.BaseURL}, true
}

// Wait blocks until instanceName's per-instance token bucket admits
// one more dispatch, or ctx is cancelled first. It paces bursts of
// tasks against a single replica the way the scheduler's dispatch
// timeout paces the HTTP round trip.
func (m *Manager) Wait(ctx context.Context, pluginID, instanceName string) error {
	m.mu.RLock()
	var lim *rate.Limiter
	for _, inst := range m.instances[pluginID] {
		if inst.InstanceName == instanceName {
			lim = inst.limiter
			break
		}
	}
	m.mu.RUnlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// RecordOutcome updates the instance's ok/fail counters.
func (m *Manager) RecordOutcome(pluginID, instanceName string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inst := range m.instances[pluginID] {
		if inst.InstanceName == instanceName {
			inst.mu.Lock()
			if ok {
				inst.TasksOK++
			} else {
				inst.TasksFail++
			}
			inst.mu.Unlock()
			return
		}
	}
}

// ActiveManifests returns the manifest of every plugin with at least
// one healthy instance, topologically validated.
func (m *Manager) ActiveManifests() []manifest.Manifest {
	m.mu.RLock()
	var active []manifest.Manifest
	for pluginID, mf := range m.manifests {
		for _, inst := range m.instances[pluginID] {
			if inst.getStatus() == StatusHealthy {
				active = append(active, mf)
				break
			}
		}
	}
	m.mu.RUnlock()

	ordered, err := manifest.ActivateSet(active)
	if err != nil {
		log.Printf("worker: active plugin set failed topological validation: %v", err)
		return nil
	}
	return ordered
}

func (m *Manager) healthLoop() {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

func (m *Manager) probeAll() {
	m.mu.RLock()
	var all []*Instance
	for _, instances := range m.instances {
		all = append(all, instances...)
	}
	m.mu.RUnlock()

	for _, inst := range all {
		ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
		was := inst.getStatus()
		healthy := m.probe(ctx, inst)
		cancel()

		if healthy && was != StatusHealthy {
			m.bus.Emit(scheduler.Event{Type: scheduler.EventPluginHealthy, PluginID: inst.PluginID})
		} else if !healthy && was == StatusHealthy {
			m.bus.Emit(scheduler.Event{Type: scheduler.EventPluginUnhealthy, PluginID: inst.PluginID})
		}
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Message string `json:"message,omitempty"`
}

// probe issues GET /health. healthy requires status=="healthy" and
// ready==true. Marks healthy after two consecutive successful probes
// or one successful probe while the instance is still starting.
func (m *Manager) probe(ctx context.Context, inst *Instance) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.BaseURL+"/health", nil)
	if err != nil {
		inst.setStatus(StatusUnhealthy)
		return false
	}
	resp, err := m.http.Do(req)
	if err != nil {
		inst.mu.Lock()
		inst.healthStreak = 0
		inst.Status = StatusUnhealthy
		inst.mu.Unlock()
		return false
	}
	defer resp.Body.Close()

	var body healthResponse
	ok := json.NewDecoder(resp.Body).Decode(&body) == nil && body.Status == "healthy" && body.Ready

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !ok {
		inst.healthStreak = 0
		inst.Status = StatusUnhealthy
		return false
	}
	inst.healthStreak++
	inst.LastHealthAt = time.Now()
	if inst.healthStreak >= 2 || inst.Status == StatusStarting {
		inst.Status = StatusHealthy
	}
	healthyNow := inst.Status == StatusHealthy
	if healthyNow {
		observability.PluginHealth.WithLabelValues(inst.PluginID, inst.InstanceName).Set(1)
	} else {
		observability.PluginHealth.WithLabelValues(inst.PluginID, inst.InstanceName).Set(0)
	}
	return healthyNow
}

func (m *Manager) fetchManifest(ctx context.Context, inst *Instance) (manifest.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.BaseURL+"/manifest", nil)
	if err != nil {
		return manifest.Manifest{}, err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return manifest.Manifest{}, err
	}
	defer resp.Body.Close()

	var mf manifest.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&mf); err != nil {
		return manifest.Manifest{}, err
	}
	return mf, nil
}

func (m *Manager) pushConfig(ctx context.Context, inst *Instance, config map[string]any) error {
	body, err := json.Marshal(map[string]any{"config": config})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.BaseURL+"/configure", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("worker: configure rejected: %s", out.Error)
	}
	return nil
}
