// Package circuit wraps outbound dependencies (fetcher origins, the
// browser pool, marketplace adapters, the LLM extractor) in per-name
// circuit breakers.
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/distillhq/distill/internal/apperr"
)

// Config controls breaker behavior for one dependency class.
type Config struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration"`
	Window           time.Duration `yaml:"window"`
}

// DefaultConfig returns the standard breaker settings: three consecutive
// failures open the circuit, one probe is allowed after the open period.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		OpenDuration:     30 * time.Second,
		Window:           time.Minute,
	}
}

// Manager holds one breaker per dependency name, creating them lazily
// with a shared configuration.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManager creates a breaker manager.
func NewManager(cfg Config) *Manager {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (m *Manager) breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}

	threshold := m.cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name: name,
		// Half-open admits a single probe.
		MaxRequests: 1,
		Interval:    m.cfg.Window,
		Timeout:     m.cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("dependency", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit state change")
		},
	}
	b = gobreaker.NewCircuitBreaker(settings)
	m.breakers[name] = b
	return b
}

// Execute runs fn through the breaker for name. An open circuit returns
// a circuit_open taxonomy error without invoking fn.
func (m *Manager) Execute(name string, fn func() (any, error)) (any, error) {
	result, err := m.breaker(name).Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperr.Newf(apperr.CodeCircuitOpen, "dependency %q is unavailable", name).
				WithDetail("dependency", name)
		}
		return nil, err
	}
	return result, nil
}

// State returns the breaker state string for name ("closed", "open",
// "half-open"), defaulting to closed for unknown names.
func (m *Manager) State(name string) string {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return b.State().String()
}

// Counts exposes raw gobreaker counters for health reporting.
func (m *Manager) Counts(name string) gobreaker.Counts {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return gobreaker.Counts{}
	}
	return b.Counts()
}

// Names lists all dependencies with an instantiated breaker.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.breakers))
	for n := range m.breakers {
		names = append(names, n)
	}
	return names
}

// Healthy reports whether every breaker is closed.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		if b.State() != gobreaker.StateClosed {
			return false
		}
	}
	return true
}
