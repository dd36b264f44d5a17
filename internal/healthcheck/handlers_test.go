package healthcheck

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthHandlerHealthy(t *testing.T) {
	tracker := NewTracker(5 * time.Second)
	tracker.RecordCycle(150*time.Millisecond, 2)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	HealthHandler(tracker)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.LastCycleTime == nil {
		t.Fatalf("expected last cycle time to be set")
	}
	if payload.StacksChecked != 2 {
		t.Fatalf("expected stacks checked 2, got %d", payload.StacksChecked)
	}
	if payload.CycleDurationMS != 150 {
		t.Fatalf("expected duration 150ms, got %d", payload.CycleDurationMS)
	}
	if !payload.ChecksEnabled {
		t.Fatalf("expected checks to be enabled")
	}
}

func TestHealthHandlerUnhealthyWhenStale(t *testing.T) {
	tracker := NewTracker(3 * time.Second)
	tracker.RecordCycle(10*time.Millisecond, 1)
	tracker.lastCycle = time.Now().Add(-10 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	HealthHandler(tracker)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthyGracePeriodBeforeFirstCycle(t *testing.T) {
	tracker := NewTracker(time.Minute)
	start := tracker.started

	if !tracker.Healthy(start.Add(90 * time.Second)) {
		t.Fatalf("expected healthy within grace period")
	}
	if tracker.Healthy(start.Add(3 * time.Minute)) {
		t.Fatalf("expected unhealthy after grace period without cycles")
	}
}

func TestHealthyWhenChecksDisabled(t *testing.T) {
	tracker := NewTracker(0)
	if !tracker.Healthy(time.Now().Add(24 * time.Hour)) {
		t.Fatalf("expected healthy when checks are disabled")
	}
	if !tracker.Ready() {
		t.Fatalf("expected ready when checks are disabled and no dependency fails")
	}
}

func TestReadyHandler(t *testing.T) {
	tracker := NewTracker(time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	handler := ReadyHandler(tracker)
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	tracker.RecordCycle(5*time.Millisecond, 1)
	rec = httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after ready, got %d", rec.Code)
	}
}

func TestReadyHandlerDependencyDown(t *testing.T) {
	tracker := NewTracker(0)
	tracker.SetDependency("docker", errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	ReadyHandler(tracker)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing dependency, got %d", rec.Code)
	}
	var payload Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Dependencies["docker"] != "connection refused" {
		t.Fatalf("expected dependency error in payload, got %+v", payload.Dependencies)
	}
	if got := tracker.FailingDependencies(); len(got) != 1 || got[0] != "docker" {
		t.Fatalf("unexpected failing dependencies: %v", got)
	}

	tracker.SetDependency("docker", nil)
	rec = httptest.NewRecorder()
	ReadyHandler(tracker)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once dependency recovers, got %d", rec.Code)
	}
}

func TestNilTracker(t *testing.T) {
	var tracker *Tracker
	rec := httptest.NewRecorder()
	HealthHandler(tracker)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for nil tracker, got %d", rec.Code)
	}
}

func TestHealthResponseStatus(t *testing.T) {
	tracker := NewTracker(0)
	tracker.SetDependency("docker", errors.New("no such host"))

	rec := httptest.NewRecorder()
	ReadyHandler(tracker)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var payload struct {
		Status  string   `json:"status"`
		Failing []string `json:"failing_dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "unavailable" || len(payload.Failing) != 1 || payload.Failing[0] != "docker" {
		t.Fatalf("unexpected health payload: %+v", payload)
	}

	rec = httptest.NewRecorder()
	HealthHandler(tracker)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.Code != http.StatusOK || payload.Status != "ok" {
		t.Fatalf("expected liveness to ignore dependencies, got %d %+v", rec.Code, payload)
	}
}
