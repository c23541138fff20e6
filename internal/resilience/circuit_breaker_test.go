package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, ResetTimeout: 50 * time.Millisecond}, nil)

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return errors.New("boom") })
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	require.ErrorContains(t, err, "is open")
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxReqs: 1}, nil)

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerExecuteWithContextTimeout(t *testing.T) {
	cb := New(Config{Name: "test", Timeout: 20 * time.Millisecond}, nil)
	err := cb.ExecuteWithContext(context.Background(), func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.ErrorContains(t, err, "timeout")
}

func TestManagerGetOrCreateReusesBreaker(t *testing.T) {
	m := NewManager(nil)
	a := m.GetOrCreate("dep", Config{})
	b := m.GetOrCreate("dep", Config{})
	require.Same(t, a, b)
}
