// Package observability exposes the Prometheus metrics emitted by the
// scheduler, the worker manager, and the streaming pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metasort_queue_depth",
		Help: "Current waiting+running depth per queue tier.",
	}, []string{"queue", "state"})

	DispatchDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metasort_dispatch_decisions_total",
		Help: "Dispatch outcomes by reason.",
	}, []string{"plugin", "outcome"})

	TaskRuntimeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metasort_task_runtime_seconds",
		Help:    "Task duration from dispatch to terminal state.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"plugin", "status"})

	AdmissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "metasort_admission_wait_seconds",
		Help:    "Time a task spent queued before its dispatch step started.",
		Buckets: prometheus.DefBuckets,
	})

	InstanceSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metasort_instance_selections_total",
		Help: "Round-robin worker instance selections.",
	}, []string{"plugin", "instance"})

	FenceWaitTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metasort_fence_wait_timeouts_total",
		Help: "Dependency fence waits that expired before settlement.",
	}, []string{"plugin", "dependency"})

	GateState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "metasort_gate_open",
		Help: "1 when the admission gate is open, 0 when closed.",
	})

	CallbacksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metasort_callbacks_dropped_total",
		Help: "Callbacks dropped because the task was unknown or already terminal.",
	}, []string{"reason"})

	FilesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "metasort_files_completed_total",
		Help: "file:complete events emitted.",
	})

	PluginHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metasort_plugin_instance_healthy",
		Help: "1 when a worker instance is healthy, 0 otherwise.",
	}, []string{"plugin", "instance"})

	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metasort_batch_flushes_total",
		Help: "Batch notifier flush attempts by outcome.",
	}, []string{"outcome"})
)
