// Package health aggregates dependency probes into a single service
// status: healthy, degraded when optional subsystems are down, and
// unhealthy when a required one is.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregate or per-subsystem verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Probe checks one subsystem. A nil error means healthy.
type Probe func(ctx context.Context) error

// SubsystemReport is the outcome of one probe.
type SubsystemReport struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Report is the full health response.
type Report struct {
	Status     Status                     `json:"status"`
	Subsystems map[string]SubsystemReport `json:"subsystems"`
	CheckedAt  time.Time                  `json:"checkedAt"`
	Uptime     string                     `json:"uptime"`
}

type subsystem struct {
	name     string
	required bool
	probe    Probe
}

// Checker runs registered probes in parallel with a per-probe timeout.
type Checker struct {
	mu         sync.RWMutex
	subsystems []subsystem
	timeout    time.Duration
	startedAt  time.Time
}

// NewChecker creates a checker. timeout bounds each probe; zero means 2s.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout, startedAt: time.Now()}
}

// Register adds a probe. Required subsystems make the service unhealthy
// when they fail; optional ones only degrade it.
func (c *Checker) Register(name string, required bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subsystems = append(c.subsystems, subsystem{name: name, required: required, probe: probe})
}

// Check runs all probes and aggregates the verdict.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	subs := make([]subsystem, len(c.subsystems))
	copy(subs, c.subsystems)
	c.mu.RUnlock()

	report := Report{
		Status:     StatusHealthy,
		Subsystems: make(map[string]SubsystemReport, len(subs)),
		CheckedAt:  time.Now().UTC(),
		Uptime:     time.Since(c.startedAt).Truncate(time.Second).String(),
	}

	type result struct {
		name     string
		required bool
		rep      SubsystemReport
	}
	results := make(chan result, len(subs))

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s subsystem) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := s.probe(probeCtx)
			rep := SubsystemReport{
				Status:  StatusHealthy,
				Latency: time.Since(start).Truncate(time.Microsecond).String(),
			}
			if err != nil {
				rep.Status = StatusUnhealthy
				rep.Error = err.Error()
			}
			results <- result{name: s.name, required: s.required, rep: rep}
		}(s)
	}
	wg.Wait()
	close(results)

	for r := range results {
		report.Subsystems[r.name] = r.rep
		if r.rep.Status != StatusHealthy {
			if r.required {
				report.Status = StatusUnhealthy
			} else if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// HTTPStatus maps the aggregate verdict to a response code. Degraded
// still serves traffic.
func (r Report) HTTPStatus() int {
	if r.Status == StatusUnhealthy {
		return 503
	}
	return 200
}
