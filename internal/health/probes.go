package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/distillhq/distill/internal/browser"
	"github.com/distillhq/distill/internal/cache"
	"github.com/distillhq/distill/internal/circuit"
)

// CircuitProbe fails when any breaker is open.
func CircuitProbe(m *circuit.Manager) Probe {
	return func(context.Context) error {
		if m == nil || m.Healthy() {
			return nil
		}
		var open []string
		for _, name := range m.Names() {
			if st := m.State(name); st != "closed" {
				open = append(open, name+"="+st)
			}
		}
		return fmt.Errorf("open circuits: %s", strings.Join(open, ", "))
	}
}

// RedisProbe pings the remote cache tier.
func RedisProbe(r *cache.Redis) Probe {
	return func(ctx context.Context) error {
		if r == nil {
			return nil
		}
		return r.Ping(ctx)
	}
}

// BrowserProbe fails when rendering is configured but the pool is down.
func BrowserProbe(p *browser.Pool, configured bool) Probe {
	return func(context.Context) error {
		if !configured {
			return nil
		}
		if p == nil || !p.Available() {
			return fmt.Errorf("browser pool unavailable")
		}
		return nil
	}
}
