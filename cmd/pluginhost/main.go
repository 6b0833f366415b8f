// Command pluginhost is a reference implementation of the worker HTTP
// contract: it answers /health, /manifest, /configure, and
// /process, and POSTs a Callback back to whatever callbackUrl it was
// given. It exists so the scheduler and worker manager can be
// exercised against a real process rather than an in-process fake
// alone; it performs no actual metadata extraction.
package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type config struct {
	pluginID   string
	listenAddr string
	workDelay  time.Duration
}

func loadConfig() config {
	return config{
		pluginID:   getenv("PLUGIN_ID", "sample"),
		listenAddr: getenv("LISTEN_ADDR", ":8100"),
		workDelay:  50 * time.Millisecond,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type healthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
}

type manifestResponse struct {
	ID           string   `json:"id"`
	Version      string   `json:"version"`
	Priority     int      `json:"priority"`
	DefaultQueue string   `json:"defaultQueue"`
	Dependencies []string `json:"dependencies"`
	TimeoutMs    int64    `json:"timeoutMs"`
}

type processRequest struct {
	TaskID      string `json:"taskId"`
	CID         string `json:"cid"`
	FilePath    string `json:"filePath"`
	CallbackURL string `json:"callbackUrl"`
}

type processResponse struct {
	Status string `json:"status"`
	TaskID string `json:"taskId"`
}

type callback struct {
	TaskID     string `json:"taskId"`
	PluginID   string `json:"pluginId"`
	CID        string `json:"cid"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
}

type host struct {
	cfg    config
	client *http.Client
}

func (h *host) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(healthResponse{Status: "healthy", Ready: true, Version: "dev"})
}

func (h *host) handleManifest(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(manifestResponse{
		ID:           h.cfg.pluginID,
		Version:      "1.0.0",
		Priority:     0,
		DefaultQueue: "fast",
		TimeoutMs:    60000,
	})
}

func (h *host) handleConfigure(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (h *host) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(processResponse{Status: "accepted", TaskID: req.TaskID})

	go h.work(req)
}

func (h *host) work(req processRequest) {
	start := time.Now()
	time.Sleep(h.cfg.workDelay)

	cb := callback{
		TaskID:     req.TaskID,
		PluginID:   h.cfg.pluginID,
		CID:        req.CID,
		Status:     "completed",
		DurationMs: time.Since(start).Milliseconds(),
	}
	body, err := json.Marshal(cb)
	if err != nil {
		log.Printf("pluginhost: marshal callback for %s: %v", req.TaskID, err)
		return
	}

	resp, err := h.client.Post(req.CallbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("pluginhost: callback post for %s failed: %v", req.TaskID, err)
		return
	}
	resp.Body.Close()
}

func main() {
	cfg := loadConfig()
	h := &host{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/manifest", h.handleManifest)
	mux.HandleFunc("/configure", h.handleConfigure)
	mux.HandleFunc("/process", h.handleProcess)

	server := &http.Server{Addr: cfg.listenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("pluginhost: %v", err)
		}
	}()
	log.Printf("pluginhost: plugin %s listening on %s", cfg.pluginID, cfg.listenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
