// Command metasortd wires the worker manager, scheduler, streaming
// pipeline, notification hub, and HTTP surface into one process.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/worph/meta-sort/internal/config"
	"github.com/worph/meta-sort/internal/httpapi"
	"github.com/worph/meta-sort/internal/metastore"
	"github.com/worph/meta-sort/internal/notify"
	"github.com/worph/meta-sort/internal/pipeline"
	"github.com/worph/meta-sort/internal/scheduler"
	"github.com/worph/meta-sort/internal/state"
	"github.com/worph/meta-sort/internal/worker"
)

func main() {
	fmt.Println(`
  __  __ ______ _______       _____  ____  _____ _______
 |  \/  |  ____|__   __|/\   / ____|/ __ \|  __ \__   __|
 | \  / | |__     | |  /  \ | (___ | |  | | |__) | | |
 | |\/| |  __|    | | / /\ \ \___ \| |  | |  _  /  | |
 | |  | | |____   | |/ ____ \____) | |__| | | \ \  | |
 |_|  |_|______|  |_/_/    \_\_____/ \____/|_|  \_\ |_|

 plugin task scheduler`)

	cfg := config.Load()

	var meta metastore.Store
	if cfg.RedisAddr != "" {
		redisStore, err := metastore.NewRedisStore(cfg.RedisAddr, "", 0)
		if err != nil {
			log.Fatalf("metasortd: redis metastore: %v", err)
		}
		meta = redisStore
	} else {
		meta = metastore.NewMemoryStore()
	}

	containerRuntime, err := worker.NewContainerdRuntime("/run/containerd/containerd.sock", "metasort-plugins")
	if err != nil {
		log.Fatalf("metasortd: containerd runtime: %v", err)
	}

	schedCfg := scheduler.Config{
		FastConcurrency:          cfg.FastConcurrency,
		BackgroundConcurrency:    cfg.BackgroundConcurrency,
		FastThresholdMs:          cfg.FastThresholdMs,
		MinClassifySamples:       cfg.MinClassifySamples,
		DefaultCallbackTimeoutMs: cfg.CallbackTimeoutMs,
		DispatchTimeoutMs:        cfg.DispatchTimeoutMs,
		DependencyTimeoutMs:      cfg.DependencyTimeoutMs,
		DrainPollMs:              cfg.DrainPollMs,
		CallbackBaseURL:          "http://metasortd" + cfg.CallbackListenAddr + "/api/plugins/callback",
		MetaCoreURL:              cfg.MetaCoreURL,
		MaxPendingPerTier:        cfg.MaxPendingPerTier,
	}

	bus := scheduler.NewBus()
	workerManager := worker.NewManager(containerRuntime, bus, cfg.HealthProbeInterval, cfg.HealthProbeTimeout)
	sched := scheduler.New(schedCfg, workerManager, meta, bus)

	notifyHub := notify.NewHub(time.Duration(cfg.BatchIntervalMs) * time.Millisecond)
	stateManager := state.NewManager()

	pipelineCfg := pipeline.Config{
		FastConcurrency:       cfg.FastConcurrency,
		BackgroundConcurrency: cfg.BackgroundConcurrency,
	}
	retryPolicy := &pipeline.RetryPolicy{
		MaxRetries:    cfg.MaxFileRetries,
		BaseTimeout:   time.Second,
		Multiplier:    1.5,
		FastCap:       10 * time.Minute,
		BackgroundCap: time.Duration(cfg.FullHashTimeoutMs) * time.Millisecond,
	}
	streamingPipeline := pipeline.New(pipelineCfg, stateManager, sched, meta, notifyHub, retryPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerManager.Initialize(ctx, loadPluginConfigs())
	sched.Start()
	go notifyHub.Run(ctx.Done())

	// Periodic sweep re-submitting failed files under the retry policy.
	go func() {
		sweep := time.NewTicker(time.Duration(cfg.RetrySweepMs) * time.Millisecond)
		defer sweep.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				if n := streamingPipeline.RetryFailed(); n > 0 {
					log.Printf("metasortd: scheduled %d failed files for retry", n)
				}
			}
		}
	}()

	api := httpapi.New(sched, sched, stateManager, streamingPipeline)
	mux := http.NewServeMux()
	api.Routes(mux)
	mux.Handle("/notify", notifyHub)

	server := &http.Server{Addr: cfg.CallbackListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metasortd: http server: %v", err)
		}
	}()
	log.Printf("metasortd: listening on %s", cfg.CallbackListenAddr)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsListenAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metasortd: metrics server: %v", err)
		}
	}()
	log.Printf("metasortd: metrics listening on %s", cfg.MetricsListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("metasortd: shutting down")
	sched.SetGate(false)
	sched.WaitForEmpty(30000)
	sched.Stop()
	streamingPipeline.Stop()
	workerManager.Shutdown(context.Background())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
}

func loadPluginConfigs() []worker.PluginConfig {
	// Plugin population is operator-provided; configuration file
	// parsing is out of scope, so this stands in for whatever the
	// surrounding deployment supplies (env-driven in practice).
	return nil
}
