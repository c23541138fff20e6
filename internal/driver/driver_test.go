package driver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loadsmith/loadsmith/internal/adapters"
	"github.com/loadsmith/loadsmith/internal/aggregator"
	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/stretchr/testify/require"
)

func okServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func httpStep(name, url string) domain.Step {
	return domain.Step{
		Name:    name,
		Type:    domain.StepHttpApi,
		Enabled: true,
		Weight:  1,
		Configuration: map[string]interface{}{
			"method": "GET",
			"url":    url,
		},
	}
}

func TestDriverConstantRateProducesExpectedVolume(t *testing.T) {
	srv := okServer()
	defer srv.Close()

	scenario := domain.Scenario{
		Name:          "smoke",
		ExecutionMode: domain.ModeParallel,
		Steps:         []domain.Step{httpStep("get-ok", srv.URL)},
		LoadProfile: domain.LoadProfile{
			Type:            domain.ProfileConstantRate,
			RatePerSec:      50,
			DurationSeconds: 2,
		},
		Settings: domain.Settings{ConcurrentUsers: 5},
	}

	disp := adapters.NewDispatcher(adapters.NewHTTPAdapter(time.Second, nil), nil, nil)
	agg := aggregator.New(0)
	d := New(scenario, disp, agg, nil)

	start := time.Now()
	deadline := start.Add(time.Duration(scenario.LoadProfile.DurationSeconds) * time.Second)
	require.NoError(t, d.Run(context.Background(), start, deadline))

	_, total, successful, failed, errRate, _, breakdown := agg.Snapshot(time.Since(start))
	require.Greater(t, total, int64(0))
	require.Equal(t, total, successful+failed)
	require.Equal(t, float64(0), errRate)
	require.NotEmpty(t, breakdown)
}

func TestDriverSequentialModeIssuesRequests(t *testing.T) {
	srv := okServer()
	defer srv.Close()

	scenario := domain.Scenario{
		Name:          "sequential",
		ExecutionMode: domain.ModeSequential,
		Steps: []domain.Step{
			httpStep("step-a", srv.URL),
			httpStep("step-b", srv.URL),
		},
		LoadProfile: domain.LoadProfile{
			Type:            domain.ProfileConstantRate,
			RatePerSec:      40,
			DurationSeconds: 1,
		},
		Settings: domain.Settings{ConcurrentUsers: 2},
	}

	disp := adapters.NewDispatcher(adapters.NewHTTPAdapter(time.Second, nil), nil, nil)
	agg := aggregator.New(0)
	d := New(scenario, disp, agg, nil)

	start := time.Now()
	deadline := start.Add(time.Second)
	require.NoError(t, d.Run(context.Background(), start, deadline))

	_, total, _, _, _, _, _ := agg.Snapshot(time.Since(start))
	require.Greater(t, total, int64(0))
}

func TestWeightedSequencerConvergesToWeightShare(t *testing.T) {
	steps := []domain.Step{
		{Name: "a", Weight: 3, Enabled: true},
		{Name: "b", Weight: 1, Enabled: true},
	}
	seq := newSequencer(domain.ModeWeighted, steps, 0, 42)

	counts := make([]int, len(steps))
	const n = 10000
	for i := 0; i < n; i++ {
		counts[seq.next(int64(i))]++
	}

	shareA := float64(counts[0]) / float64(n)
	require.InDelta(t, 0.75, shareA, 0.05)
}

func TestDriverCancellationStopsWithinGraceWindow(t *testing.T) {
	srv := okServer()
	defer srv.Close()

	scenario := domain.Scenario{
		Name:          "cancel",
		ExecutionMode: domain.ModeParallel,
		Steps:         []domain.Step{httpStep("get-ok", srv.URL)},
		LoadProfile: domain.LoadProfile{
			Type:            domain.ProfileConstantRate,
			RatePerSec:      20,
			DurationSeconds: 60,
		},
		Settings: domain.Settings{ConcurrentUsers: 2},
	}

	disp := adapters.NewDispatcher(adapters.NewHTTPAdapter(time.Second, nil), nil, nil)
	agg := aggregator.New(0)
	d := New(scenario, disp, agg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	deadline := start.Add(60 * time.Second)

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx, start, deadline)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200*time.Millisecond + cancellationGrace + 2*time.Second):
		t.Fatal("driver did not stop within cancellation grace window")
	}

	_, total, _, _, _, _, _ := agg.Snapshot(time.Since(start))
	require.Greater(t, total, int64(0))
}

func TestWorkerCountDerivation(t *testing.T) {
	stress := domain.Scenario{
		LoadProfile: domain.LoadProfile{Type: domain.ProfileStress, MaxConcurrency: 25},
	}
	require.Equal(t, 25, workerCount(stress))

	capped := domain.Scenario{
		LoadProfile: domain.LoadProfile{Type: domain.ProfileConstantRate, MaxConcurrentUsers: 5},
		Settings:    domain.Settings{ConcurrentUsers: 50},
	}
	require.Equal(t, 5, workerCount(capped))
}
