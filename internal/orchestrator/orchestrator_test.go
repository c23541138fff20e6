package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loadsmith/loadsmith/internal/adapters"
	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/scenario"
	"github.com/stretchr/testify/require"
)

func TestExecuteSmokeScenarioCompletesWithNoImpact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sc := domain.Scenario{
		Name:          "smoke",
		ExecutionMode: domain.ModeParallel,
		Steps: []domain.Step{{
			Name: "get-ok", Type: domain.StepHttpApi, Enabled: true, Weight: 1,
			Configuration: map[string]interface{}{"method": "GET", "url": srv.URL},
		}},
		LoadProfile: domain.LoadProfile{Type: domain.ProfileConstantRate, RatePerSec: 30, DurationSeconds: 1},
		Settings:    domain.Settings{ConcurrentUsers: 4, ExpectedResponseTimeMs: 200},
		Thresholds:  domain.ThresholdSet{MaxErrorRatePercent: 5, MaxAverageMs: 200, MaxP95Ms: 300, MaxP99Ms: 400},
	}

	disp := adapters.NewDispatcher(adapters.NewHTTPAdapter(time.Second, nil), nil, nil)
	o := New(scenario.NewLoader(nil), disp, nil)

	result, err := o.Execute(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, result.Status)
	require.True(t, result.JudgedPassed)
	require.Equal(t, domain.ImpactNone, result.Impact)
	require.Greater(t, result.TotalRequests, int64(0))
	require.Equal(t, result.TotalRequests, result.SuccessfulRequests+result.FailedRequests)
}

func TestExecuteFailureThresholdMarksFailed(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		if count%5 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sc := domain.Scenario{
		Name:          "failing",
		ExecutionMode: domain.ModeParallel,
		Steps: []domain.Step{{
			Name: "get-flaky", Type: domain.StepHttpApi, Enabled: true, Weight: 1,
			Configuration: map[string]interface{}{"method": "GET", "url": srv.URL},
		}},
		LoadProfile: domain.LoadProfile{Type: domain.ProfileConstantRate, RatePerSec: 40, DurationSeconds: 1},
		Settings:    domain.Settings{ConcurrentUsers: 4, ExpectedResponseTimeMs: 200},
		Thresholds:  domain.ThresholdSet{MaxErrorRatePercent: 5, MaxAverageMs: 200, MaxP95Ms: 300, MaxP99Ms: 400},
	}

	disp := adapters.NewDispatcher(adapters.NewHTTPAdapter(time.Second, nil), nil, nil)
	o := New(scenario.NewLoader(nil), disp, nil)

	result, err := o.Execute(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, result.Status)
	require.False(t, result.JudgedPassed)
	require.Equal(t, domain.ImpactCritical, result.Impact)
}

func TestExecuteByNameMissingScenarioReturnsConfigurationNotFound(t *testing.T) {
	disp := adapters.NewDispatcher(nil, nil, nil)
	o := New(scenario.NewLoader(nil), disp, nil)

	_, err := o.ExecuteByName(context.Background(), "does-not-exist")
	require.Error(t, err)
	var notFound *ConfigurationNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDeriveImpactLevels(t *testing.T) {
	cases := []struct {
		name       string
		errorRate  float64
		avg        float64
		expectedMs float64
		want       domain.ImpactLevel
	}{
		{"critical on error rate", 11, 50, 200, domain.ImpactCritical},
		{"major", 0, 450, 200, domain.ImpactMajor},
		{"moderate", 0, 350, 200, domain.ImpactModerate},
		{"minor", 0, 250, 200, domain.ImpactMinor},
		{"none", 0, 100, 200, domain.ImpactNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := domain.RunResult{ErrorRatePercent: tc.errorRate, Latency: domain.LatencyStats{AverageMs: tc.avg}}
			require.Equal(t, tc.want, deriveImpact(tc.expectedMs, r))
		})
	}
}
