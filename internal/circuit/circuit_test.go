package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distillhq/distill/internal/apperr"
)

func TestExecute_OpensAfterThreshold(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 3, OpenDuration: time.Minute})
	boom := errors.New("boom")

	calls := 0
	fail := func() (any, error) { calls++; return nil, boom }

	for i := 0; i < 3; i++ {
		_, err := m.Execute("dep", fail)
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", m.State("dep"))

	// The next call is rejected without invoking the dependency.
	_, err := m.Execute("dep", fail)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeCircuitOpen, apperr.CodeOf(err))
	assert.Equal(t, 3, calls)
}

func TestExecute_HalfOpenProbeCloses(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 2, OpenDuration: 20 * time.Millisecond})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, _ = m.Execute("dep", func() (any, error) { return nil, boom })
	}
	require.Equal(t, "open", m.State("dep"))

	time.Sleep(30 * time.Millisecond)

	// Probe succeeds, circuit closes.
	result, err := m.Execute("dep", func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "closed", m.State("dep"))
}

func TestExecute_HalfOpenProbeFailureReopens(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, OpenDuration: 20 * time.Millisecond})
	boom := errors.New("boom")

	_, _ = m.Execute("dep", func() (any, error) { return nil, boom })
	require.Equal(t, "open", m.State("dep"))

	time.Sleep(30 * time.Millisecond)
	_, err := m.Execute("dep", func() (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "open", m.State("dep"))
}

func TestManager_IndependentDependencies(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, OpenDuration: time.Minute})
	_, _ = m.Execute("bad", func() (any, error) { return nil, errors.New("x") })

	assert.Equal(t, "open", m.State("bad"))
	assert.Equal(t, "closed", m.State("good"))
	assert.False(t, m.Healthy())

	_, err := m.Execute("good", func() (any, error) { return 1, nil })
	assert.NoError(t, err)
}
