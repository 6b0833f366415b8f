// Package httpapi exposes the in-scope HTTP surface: the callback
// ingress the Scheduler consumes, file-state introspection and retry,
// and a debug snapshot endpoint.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/worph/meta-sort/internal/scheduler"
	"github.com/worph/meta-sort/internal/state"
)

// CallbackHandler is the Scheduler capability the ingress route needs.
type CallbackHandler interface {
	HandleCallback(cb scheduler.Callback) bool
}

// StatsProvider backs the debug snapshot endpoint.
type StatsProvider interface {
	Stats() scheduler.Stats
	IsGateOpen() bool
}

// StateReader is the per-file lifecycle view consumed by the API
// surface.
type StateReader interface {
	GetSnapshot() []state.FileState
	GetFailedFiles() []state.FileState
	RetryAllFailed() int
}

// Retrier re-runs failed files through the full processing pipeline.
// When absent, retry requests fall back to the state-level reset.
type Retrier interface {
	RetryFailed() int
	RetryFile(path string) bool
}

// API holds the handlers for the in-scope HTTP surface.
type API struct {
	sched CallbackHandler
	stats StatsProvider
	files StateReader
	retry Retrier
}

func New(sched CallbackHandler, stats StatsProvider, files StateReader, retry Retrier) *API {
	return &API{sched: sched, stats: stats, files: files, retry: retry}
}

// Routes registers the in-scope endpoints on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.Handle("/api/plugins/callback", CORS(http.HandlerFunc(a.handleCallback)))
	mux.Handle("/api/files/state", CORS(http.HandlerFunc(a.handleFileState)))
	mux.Handle("/api/files/failed", CORS(http.HandlerFunc(a.handleFailedFiles)))
	mux.Handle("/api/files/retry", CORS(http.HandlerFunc(a.handleRetry)))
	mux.Handle("/debug/snapshot", CORS(http.HandlerFunc(a.handleSnapshot)))
}

// handleCallback implements the callback ingress: 204 on acceptance,
// 503 if no scheduler is wired, unknown taskId is acknowledged (204)
// but the callback itself is dropped internally.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.sched == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var cb scheduler.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "malformed callback body", http.StatusBadRequest)
		return
	}

	a.sched.HandleCallback(cb)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFileState(w http.ResponseWriter, r *http.Request) {
	if a.files == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"files": a.files.GetSnapshot()})
}

func (a *API) handleFailedFiles(w http.ResponseWriter, r *http.Request) {
	if a.files == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"files": a.files.GetFailedFiles()})
}

// handleRetry re-runs failed files. An optional {"path": "..."} body
// retries a single file; an empty body retries every failed file. With
// no pipeline wired the request falls back to the state-level reset,
// which re-arms the files without re-driving them.
func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if a.retry == nil {
		if a.files == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"retried": a.files.RetryAllFailed()})
		return
	}

	if req.Path != "" {
		if !a.retry.RetryFile(req.Path) {
			http.Error(w, "file not failed or unknown", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"retried": 1})
		return
	}
	writeJSON(w, map[string]any{"retried": a.retry.RetryFailed()})
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	snapshot := struct {
		Gate  bool            `json:"gateOpen"`
		Stats scheduler.Stats `json:"stats"`
	}{
		Gate:  a.stats.IsGateOpen(),
		Stats: a.stats.Stats(),
	}
	writeJSON(w, snapshot)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
