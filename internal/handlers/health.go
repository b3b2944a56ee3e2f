package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string    `json:"version"`
	CommitSHA   string    `json:"commitSha,omitempty"`
	Environment string    `json:"environment"`
	StartedAt   time.Time `json:"startedAt"`
}

// ReadinessChecker reports the state of backing dependencies.
type ReadinessChecker interface {
	Check(ctx context.Context) domain.ReadinessReport
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build     BuildInfo
	readiness ReadinessChecker
	now       func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata echoed by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithReadinessChecker sets the dependency checker used by /readyz.
func WithReadinessChecker(checker ReadinessChecker) HealthOption {
	return func(h *HealthHandlers) { h.readiness = checker }
}

// WithHealthClock overrides the clock, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

// Healthz reports liveness. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    domain.HealthStatusOK,
		"build":     h.build,
		"uptime":    now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp": now.Format(time.RFC3339),
	})
}

// Readyz reports 200 while no critical dependency is failing and 503 otherwise.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		writeJSON(w, http.StatusOK, domain.ReadinessReport{
			Status:      domain.HealthStatusOK,
			Checks:      map[string]domain.DependencyHealth{},
			GeneratedAt: h.now().UTC(),
		})
		return
	}
	report := h.readiness.Check(r.Context())
	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
