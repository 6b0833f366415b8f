package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/worph/meta-sort/internal/scheduler"
	"github.com/worph/meta-sort/internal/state"
)

type fakeHandler struct {
	got      []scheduler.Callback
	accepted bool
}

func (f *fakeHandler) HandleCallback(cb scheduler.Callback) bool {
	f.got = append(f.got, cb)
	return f.accepted
}

func TestCallbackIngressAccepts(t *testing.T) {
	h := &fakeHandler{accepted: true}
	api := New(h, nil, nil, nil)

	body := `{"taskId":"t1","pluginId":"a","status":"completed","durationMs":5}`
	req := httptest.NewRequest(http.MethodPost, "/api/plugins/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.handleCallback(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(h.got) != 1 || h.got[0].TaskID != "t1" {
		t.Fatalf("expected callback forwarded to scheduler, got %v", h.got)
	}
}

func TestCallbackIngressAcknowledgesUnknownTask(t *testing.T) {
	// An unknown taskId is dropped internally but still acknowledged.
	h := &fakeHandler{accepted: false}
	api := New(h, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/plugins/callback", strings.NewReader(`{"taskId":"nope"}`))
	rec := httptest.NewRecorder()
	api.handleCallback(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for an unknown task, got %d", rec.Code)
	}
}

func TestCallbackIngressWithoutScheduler(t *testing.T) {
	api := New(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/plugins/callback", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	api.handleCallback(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no scheduler is wired, got %d", rec.Code)
	}
}

func TestCallbackIngressRejectsMalformedBody(t *testing.T) {
	api := New(&fakeHandler{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/plugins/callback", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	api.handleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

type fakeStateReader struct {
	snapshot []state.FileState
	failed   []state.FileState
	resets   int
}

func (f *fakeStateReader) GetSnapshot() []state.FileState    { return f.snapshot }
func (f *fakeStateReader) GetFailedFiles() []state.FileState { return f.failed }
func (f *fakeStateReader) RetryAllFailed() int               { f.resets++; return len(f.failed) }

type fakeRetrier struct {
	all   int
	paths []string
}

func (f *fakeRetrier) RetryFailed() int { f.all++; return 3 }
func (f *fakeRetrier) RetryFile(path string) bool {
	f.paths = append(f.paths, path)
	return path != "/missing.jpg"
}

func TestFileStateEndpointReturnsSnapshot(t *testing.T) {
	files := &fakeStateReader{snapshot: []state.FileState{{FilePath: "/a.jpg", Phase: state.PhaseDone}}}
	api := New(nil, nil, files, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/files/state", nil)
	rec := httptest.NewRecorder()
	api.handleFileState(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/a.jpg") {
		t.Fatalf("expected snapshot in body, got %s", rec.Body.String())
	}
}

func TestFailedFilesEndpointWithoutStateIs503(t *testing.T) {
	api := New(nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	api.handleFailedFiles(rec, httptest.NewRequest(http.MethodGet, "/api/files/failed", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a state manager, got %d", rec.Code)
	}
}

func TestRetryEndpointRetriesAllThroughPipeline(t *testing.T) {
	retrier := &fakeRetrier{}
	api := New(nil, nil, &fakeStateReader{}, retrier)

	req := httptest.NewRequest(http.MethodPost, "/api/files/retry", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	api.handleRetry(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if retrier.all != 1 {
		t.Fatalf("expected one RetryFailed call, got %d", retrier.all)
	}
	if !strings.Contains(rec.Body.String(), `"retried":3`) {
		t.Fatalf("expected retried count in body, got %s", rec.Body.String())
	}
}

func TestRetryEndpointRetriesSingleFile(t *testing.T) {
	retrier := &fakeRetrier{}
	api := New(nil, nil, nil, retrier)

	req := httptest.NewRequest(http.MethodPost, "/api/files/retry", strings.NewReader(`{"path":"/a.jpg"}`))
	rec := httptest.NewRecorder()
	api.handleRetry(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(retrier.paths) != 1 || retrier.paths[0] != "/a.jpg" {
		t.Fatalf("expected single-file retry for /a.jpg, got %v", retrier.paths)
	}

	notFound := httptest.NewRequest(http.MethodPost, "/api/files/retry", strings.NewReader(`{"path":"/missing.jpg"}`))
	rec = httptest.NewRecorder()
	api.handleRetry(rec, notFound)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unretriable path, got %d", rec.Code)
	}
}

func TestRetryEndpointFallsBackToStateReset(t *testing.T) {
	files := &fakeStateReader{failed: []state.FileState{{FilePath: "/a.jpg", Phase: state.PhaseFailed}}}
	api := New(nil, nil, files, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/files/retry", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	api.handleRetry(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if files.resets != 1 {
		t.Fatalf("expected one state-level reset, got %d", files.resets)
	}
}

func TestCallbackIngressRejectsNonPost(t *testing.T) {
	api := New(&fakeHandler{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plugins/callback", nil)
	rec := httptest.NewRecorder()
	api.handleCallback(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}
