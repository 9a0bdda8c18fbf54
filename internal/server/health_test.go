package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return status
}

func TestHealthServer_Healthz_OK(t *testing.T) {
	h := NewHealthServer(":0", nil)

	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if status := decodeStatus(t, w); status.Status != StatusOK {
		t.Errorf("expected status 'ok', got %q", status.Status)
	}
}

func TestHealthServer_Healthz_ShuttingDown(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.SetShuttingDown()

	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	status := decodeStatus(t, w)
	if status.Status != StatusShuttingDown {
		t.Errorf("expected status 'shutting_down', got %q", status.Status)
	}
	if check, ok := status.Checks["shutdown"]; !ok || check.Healthy {
		t.Error("expected shutdown check to be unhealthy")
	}
}

func TestHealthServer_Healthz_LoopStopped(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.LoopStarted("router")
	h.LoopStarted("worker-0")
	h.LoopStopped("worker-0")

	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	status := decodeStatus(t, w)
	if status.Status != StatusDegraded {
		t.Errorf("expected status 'degraded', got %q", status.Status)
	}
	if !status.Loops["router"] || status.Loops["worker-0"] {
		t.Errorf("unexpected loops %v", status.Loops)
	}
}

func TestHealthServer_Track(t *testing.T) {
	h := NewHealthServer(":0", nil)
	errBoom := errors.New("boom")
	seen := false

	err := h.Track("coordinator", func() error {
		seen = h.CheckHealth().Loops["coordinator"]
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if !seen {
		t.Error("expected loop to be running inside Track")
	}
	if h.CheckHealth().Status != StatusDegraded {
		t.Error("expected degraded after Track returned")
	}
}

func TestHealthServer_MethodNotAllowed(t *testing.T) {
	h := NewHealthServer(":0", nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		h.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusMethodNotAllowed, w.Code)
		}
	}
}

func TestHealthServer_HeadHasNoBody(t *testing.T) {
	h := NewHealthServer(":0", nil)
	w := httptest.NewRecorder()
	h.handleReadyz(w, httptest.NewRequest(http.MethodHead, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestHealthServer_Readyz(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.RegisterReadinessCheck(NewFuncChecker("good", nil))
	h.RegisterReadinessCheck(NewFuncChecker("bad", func(context.Context) error {
		return errors.New("unreachable")
	}))

	w := httptest.NewRecorder()
	h.handleReadyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	status := decodeStatus(t, w)
	if status.Status != StatusNotReady {
		t.Errorf("expected status 'not_ready', got %q", status.Status)
	}
	if !status.Checks["good"].Healthy {
		t.Error("expected good check to be healthy")
	}
	if bad := status.Checks["bad"]; bad.Healthy || bad.Message != "unreachable" {
		t.Errorf("unexpected bad check %+v", bad)
	}
}

func TestHealthServer_ReadinessTimeout(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.SetReadinessTimeout(10 * time.Millisecond)
	h.RegisterReadinessCheck(NewFuncChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status := h.CheckReadiness(context.Background())
	if status.Status != StatusNotReady {
		t.Errorf("expected status 'not_ready', got %q", status.Status)
	}
}

func TestHealthServer_StartServesExtraHandlers(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0", nil)
	h.RegisterHandler("/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Close()

	resp, err := http.Get("http://" + h.Addr() + "/hello")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, resp.StatusCode)
	}

	resp, err = http.Get("http://" + h.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}
