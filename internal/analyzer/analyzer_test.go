package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/history"
	"github.com/stretchr/testify/require"
)

func seedBaseline(t *testing.T, store history.Store, name string, n int, avgMs, errRate, rps float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		result := domain.RunResult{
			TestName:         name,
			StartTime:        time.Now().Add(-time.Duration(n-i) * time.Hour),
			ErrorRatePercent: errRate,
			Latency:          domain.LatencyStats{AverageMs: avgMs},
			Throughput:       rps,
			Status:           domain.StatusCompleted,
		}
		_, err := store.Append(context.Background(), result)
		require.NoError(t, err)
	}
}

// TestAnalyzeMatchesSpecScenarioS5 reproduces spec §8's literal S5
// example: 10 Completed records at avg 100ms/err 1%/rps 50, then a fresh
// run at avg 150ms with the same error rate and throughput.
func TestAnalyzeMatchesSpecScenarioS5(t *testing.T) {
	store := history.NewMemoryStore()
	seedBaseline(t, store, "checkout", 10, 100, 1, 50)

	a := New(store)
	fresh := domain.RunResult{
		TestName:         "checkout",
		ErrorRatePercent: 1,
		Latency:          domain.LatencyStats{AverageMs: 150},
		Throughput:       50,
	}

	report, ok, err := a.Analyze(context.Background(), fresh)
	require.NoError(t, err)
	require.True(t, ok)

	require.InDelta(t, 100, report.BaselineAvgLatencyMs, 0.001)
	require.InDelta(t, 50, report.LatencyDeviationPercent, 0.001)
	require.InDelta(t, 0, report.ErrorRateDeviationPercent, 0.001)
	require.InDelta(t, 0, report.ThroughputDeviationPercent, 0.001)
	require.InDelta(t, 15, report.OverallDeviationScore, 0.001)
	require.Equal(t, float64(50), report.ConfidencePercent)
}

func TestAnalyzeAbsentWhenFewerThanThreeCompletedRecords(t *testing.T) {
	store := history.NewMemoryStore()
	seedBaseline(t, store, "new-service", 2, 100, 1, 50)

	a := New(store)
	_, ok, err := a.Analyze(context.Background(), domain.RunResult{TestName: "new-service"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeviationFormula(t *testing.T) {
	require.InDelta(t, 50, deviation(150, 100), 0.001)
	require.InDelta(t, -50, deviation(50, 100), 0.001)
	require.Equal(t, float64(0), deviation(100, 0))
}

func TestRecommendationsCoverEachThreshold(t *testing.T) {
	require.Contains(t, recommendations(25, 0, 0), "Response time degraded; investigate queries/caching/scaling.")
	require.Contains(t, recommendations(-25, 0, 0), "Response time improved; current configuration is outperforming baseline.")
	require.Contains(t, recommendations(0, 15, 0), "Error rate rose; inspect logs and stability.")
	require.Contains(t, recommendations(0, 0, -25), "Throughput dropped; consider load-balancing/scale-out.")
	require.Equal(t, []string{"Within normal range; continue monitoring."}, recommendations(0, 0, 0))
}

func TestTrendDirectionRequiresJointImprovementOrDegradation(t *testing.T) {
	improving := []domain.HistoryRecord{
		{AverageResponseTimeMs: 50, ErrorRatePercent: 0.5},
		{AverageResponseTimeMs: 55, ErrorRatePercent: 0.6},
		{AverageResponseTimeMs: 100, ErrorRatePercent: 2},
		{AverageResponseTimeMs: 110, ErrorRatePercent: 2.2},
	}
	require.Equal(t, domain.TrendImproving, trendDirection(improving))

	degrading := []domain.HistoryRecord{
		{AverageResponseTimeMs: 110, ErrorRatePercent: 2.2},
		{AverageResponseTimeMs: 100, ErrorRatePercent: 2},
		{AverageResponseTimeMs: 55, ErrorRatePercent: 0.6},
		{AverageResponseTimeMs: 50, ErrorRatePercent: 0.5},
	}
	require.Equal(t, domain.TrendDegrading, trendDirection(degrading))

	mixed := []domain.HistoryRecord{
		{AverageResponseTimeMs: 100, ErrorRatePercent: 0.5},
		{AverageResponseTimeMs: 100, ErrorRatePercent: 0.5},
		{AverageResponseTimeMs: 50, ErrorRatePercent: 2},
		{AverageResponseTimeMs: 50, ErrorRatePercent: 2},
	}
	require.Equal(t, domain.TrendStable, trendDirection(mixed))
}
