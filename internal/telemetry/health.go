package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the JSON body returned by the health/readiness/liveness
// endpoints.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

var version = "dev"

// SetVersion sets the version reported by the health endpoints.
func SetVersion(v string) { version = v }

// HealthHandler always reports healthy; it exists for load balancers
// that only check process liveness.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealthStatus(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now(), Version: version})
	}
}

// ReadinessHandler reports ready once dependencyHealthCheck (typically
// the key manager's HealthCheck) succeeds, and not_ready otherwise.
func ReadinessHandler(dependencyHealthCheck func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{Status: "ready", Timestamp: time.Now(), Version: version}
		if dependencyHealthCheck != nil {
			if err := dependencyHealthCheck(r.Context()); err != nil {
				status.Status = "not_ready"
				writeHealthStatus(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		writeHealthStatus(w, http.StatusOK, status)
	}
}

// LivenessHandler always reports alive once the process can serve HTTP
// requests at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealthStatus(w, http.StatusOK, HealthStatus{Status: "alive", Timestamp: time.Now(), Version: version})
	}
}

func writeHealthStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
