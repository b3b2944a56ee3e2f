package domain

import "time"

// HealthStatus summarises the state of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// DependencyHealth is the outcome of one readiness probe.
type DependencyHealth struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// ReadinessReport aggregates every dependency probe run for /readyz.
type ReadinessReport struct {
	Status      HealthStatus                `json:"status"`
	Checks      map[string]DependencyHealth `json:"checks"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}

// Ready reports whether the service should receive traffic. Degraded dependencies keep it ready.
func (r ReadinessReport) Ready() bool {
	return r.Status != HealthStatusError
}
