package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// ReadinessProbe pings one backing dependency (Postgres, Firestore, Redis, the event broker).
type ReadinessProbe struct {
	Name    string
	Timeout time.Duration
	// Critical probes that fail mark the report as error; others only degrade it.
	Critical bool
	Check    func(context.Context) error
}

// ReadinessChecker runs every registered probe concurrently.
type ReadinessChecker struct {
	probes         []ReadinessProbe
	defaultTimeout time.Duration
	now            func() time.Time
}

// ReadinessOption customises a ReadinessChecker.
type ReadinessOption func(*ReadinessChecker)

// WithProbeTimeout overrides the timeout used by probes that do not set their own.
func WithProbeTimeout(timeout time.Duration) ReadinessOption {
	return func(c *ReadinessChecker) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithReadinessClock injects the clock used to stamp results.
func WithReadinessClock(clock func() time.Time) ReadinessOption {
	return func(c *ReadinessChecker) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewReadinessChecker validates the probe set and returns a checker.
func NewReadinessChecker(probes []ReadinessProbe, opts ...ReadinessOption) (*ReadinessChecker, error) {
	seen := make(map[string]struct{}, len(probes))
	for _, probe := range probes {
		name := strings.TrimSpace(probe.Name)
		if name == "" {
			return nil, errors.New("readiness: probe name is required")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("readiness: probe %s has no check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("readiness: duplicate probe %s", name)
		}
		seen[name] = struct{}{}
	}

	checker := &ReadinessChecker{
		probes:         append([]ReadinessProbe(nil), probes...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(checker)
		}
	}
	return checker, nil
}

// Check runs all probes and folds them into a report. An empty probe set is ready.
func (c *ReadinessChecker) Check(ctx context.Context) domain.ReadinessReport {
	results := make(map[string]domain.DependencyHealth, len(c.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, probe := range c.probes {
		wg.Add(1)
		go func(probe ReadinessProbe) {
			defer wg.Done()
			result := c.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, probe := range c.probes {
		result := results[probe.Name]
		if result.Status == domain.HealthStatusOK {
			continue
		}
		if probe.Critical {
			status = domain.HealthStatusError
			break
		}
		status = domain.HealthStatusDegraded
	}

	return domain.ReadinessReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: c.now().UTC(),
	}
}

func (c *ReadinessChecker) run(ctx context.Context, probe ReadinessProbe) domain.DependencyHealth {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	err := probe.Check(probeCtx)
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	end := c.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Latency:   end.Sub(start),
		CheckedAt: end.UTC(),
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
	default:
		result.Status = domain.HealthStatusError
		result.Detail = err.Error()
	}
	return result
}
