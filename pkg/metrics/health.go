package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status values reported by /health and /ready
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body served by the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// component is the last reported state of one part of a hook, such as the
// listener of a server or the parent link of a client
type component struct {
	healthy bool
	detail  string
}

// HealthChecker aggregates component state for one process
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]component
	critical   []string
	started    time.Time
	version    string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]component),
		started:    time.Now(),
	}
}

// SetVersion sets the version reported by both endpoints
func SetVersion(version string) {
	healthChecker.mu.Lock()
	healthChecker.version = version
	healthChecker.mu.Unlock()
}

// SetCritical names the components a hook cannot serve without
func SetCritical(names ...string) {
	healthChecker.mu.Lock()
	healthChecker.critical = append([]string(nil), names...)
	healthChecker.mu.Unlock()
}

// UpdateComponent records the state of a component. detail is shown when
// the component is down.
func UpdateComponent(name string, healthy bool, detail string) {
	healthChecker.mu.Lock()
	healthChecker.components[name] = component{healthy: healthy, detail: detail}
	healthChecker.mu.Unlock()
}

// GetHealth is unhealthy as soon as any reported component is down
func GetHealth() HealthStatus {
	h := healthChecker
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.status(StatusHealthy)
	for name, c := range h.components {
		if c.healthy {
			out.Components[name] = StatusHealthy
			continue
		}
		out.Status = StatusUnhealthy
		out.Components[name] = StatusUnhealthy + ": " + c.detail
	}
	return out
}

// GetReadiness is ready once every critical component reported healthy
func GetReadiness() HealthStatus {
	h := healthChecker
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.status(StatusReady)
	for _, name := range h.critical {
		c, ok := h.components[name]
		if ok && c.healthy {
			out.Components[name] = StatusReady
			continue
		}

		out.Status = StatusNotReady
		if !ok {
			out.Components[name] = "not registered"
			out.Message = "waiting for " + name + " initialization"
		} else {
			out.Components[name] = StatusNotReady + ": " + c.detail
			out.Message = "waiting for " + name
		}
	}
	return out
}

// status must be called with h.mu held
func (h *HealthChecker) status(initial string) HealthStatus {
	return HealthStatus{
		Status:     initial,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(h.components)),
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	}
}

// HealthHandler serves GetHealth, 503 when unhealthy
func HealthHandler() http.HandlerFunc {
	return statusHandler(GetHealth, StatusHealthy)
}

// ReadyHandler serves GetReadiness, 503 until ready
func ReadyHandler() http.HandlerFunc {
	return statusHandler(GetReadiness, StatusReady)
}

func statusHandler(get func() HealthStatus, ok string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := get()
		code := http.StatusOK
		if body.Status != ok {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Mux serves /metrics, /health and /ready
func Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	return mux
}
