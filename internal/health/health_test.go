package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AllHealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("cache", false, func(context.Context) error { return nil })
	c.Register("circuits", true, func(context.Context) error { return nil })

	report := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, 200, report.HTTPStatus())
	require.Len(t, report.Subsystems, 2)
	assert.Equal(t, StatusHealthy, report.Subsystems["cache"].Status)
}

func TestCheck_OptionalFailureDegrades(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("cache", false, func(context.Context) error { return errors.New("redis down") })
	c.Register("circuits", true, func(context.Context) error { return nil })

	report := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, 200, report.HTTPStatus())
	assert.Equal(t, "redis down", report.Subsystems["cache"].Error)
}

func TestCheck_RequiredFailureUnhealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("cache", false, func(context.Context) error { return errors.New("redis down") })
	c.Register("circuits", true, func(context.Context) error { return errors.New("open circuits: fetch") })

	report := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, 503, report.HTTPStatus())
}

func TestCheck_ProbeTimeout(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", true, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	report := c.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestCheck_NoProbes(t *testing.T) {
	report := NewChecker(0).Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Subsystems)
}

func TestBrowserProbe_NotConfigured(t *testing.T) {
	probe := BrowserProbe(nil, false)
	assert.NoError(t, probe(context.Background()))

	probe = BrowserProbe(nil, true)
	assert.Error(t, probe(context.Background()))
}
