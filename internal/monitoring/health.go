package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker serves a liveness summary for the bot process.
type HealthChecker struct {
	mu        sync.RWMutex
	state     string
	lastTick  time.Time
	lastError string
}

// HealthStatus is the JSON body of the health endpoint.
type HealthStatus struct {
	Status    string    `json:"status"`
	BotState  string    `json:"bot_state"`
	Timestamp time.Time `json:"timestamp"`
	LastTick  time.Time `json:"last_tick"`
	Uptime    string    `json:"uptime"`
	LastError string    `json:"last_error,omitempty"`
}

// NewHealthChecker creates a checker; RecordTick must be called from the
// main loop for the process to report healthy.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{state: "IDLE"}
}

// RecordTick marks the main loop alive and publishes the current state.
func (h *HealthChecker) RecordTick(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.lastTick = time.Now()
	h.lastError = ""
}

// RecordError surfaces a halting error on the health endpoint.
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = msg
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	switch {
	case h.lastError != "":
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	case h.lastTick.IsZero() || time.Since(h.lastTick) > 10*time.Minute:
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(HealthStatus{
		Status:    status,
		BotState:  h.state,
		Timestamp: time.Now(),
		LastTick:  h.lastTick,
		Uptime:    time.Since(startTime).String(),
		LastError: h.lastError,
	})
}
