package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

type probeResponse struct {
	Status  string   `json:"status"`
	Failing []string `json:"failing_dependencies,omitempty"`
	Snapshot
}

// HealthHandler serves liveness: 200 while check cycles keep up with the poll
// interval.
func HealthHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, tracker, tracker.Healthy(time.Now().UTC()))
	}
}

// ReadyHandler serves readiness: 200 once dependencies are reachable and, when
// checks are enabled, the first cycle has completed.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, tracker, tracker.Ready())
	}
}

func writeProbe(w http.ResponseWriter, tracker *Tracker, ok bool) {
	resp := probeResponse{
		Status:   "ok",
		Failing:  tracker.FailingDependencies(),
		Snapshot: tracker.Snapshot(),
	}
	status := http.StatusOK
	if !ok {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
