// Package analyzer computes a DeviationReport by comparing a fresh
// RunResult against a history-derived baseline (spec §4.7). It is
// grounded on the teacher's mathematical-analysis service shape
// (a small stateless struct of pure functions over slices of samples)
// but replaces progressive-scaling curve fitting with the spec's
// deviation/trend/confidence/recommendation rules.
package analyzer

import (
	"context"
	"math"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/history"
)

// minTrendSamples is the fewest recent records TrendDirection needs
// before it will classify anything beyond Stable (spec §4.7, K >= 3).
const minTrendSamples = 3

// Analyzer computes DeviationReports from a history.Store. It carries
// the two OverallDeviationScore weight sets spec §4.7 requires: the
// absolute variant (B) is primary, the signed variant (A) is reporting
// only.
type Analyzer struct {
	store history.Store

	// BaselineSampleSize is how many recent Completed records baseline()
	// averages over. Zero or negative means 20.
	BaselineSampleSize int

	// TrendSampleSize is K in spec §4.7's trend rule (>= 3).
	TrendSampleSize int
}

// New builds an Analyzer reading baselines and trend history from store.
func New(store history.Store) *Analyzer {
	return &Analyzer{store: store, BaselineSampleSize: 20, TrendSampleSize: 10}
}

// deviation implements spec §4.7's formula: (x-b)/b*100 when b != 0, 0
// otherwise (testable property §8.9).
func deviation(current, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (current - baseline) / baseline * 100
}

// weightsAbsolute is OverallDeviationScore variant (B), the primary
// score: {latency 0.3, errorRate 0.25, throughput 0.25, cpu 0.1, mem 0.1}.
type weightsAbsolute struct {
	latency, errorRate, throughput, cpu, mem float64
}

var absoluteWeights = weightsAbsolute{latency: 0.30, errorRate: 0.25, throughput: 0.25, cpu: 0.10, mem: 0.10}

// weightsSigned is OverallDeviationScore variant (A), reporting-only:
// {latency 0.5, errorRate 0.3, throughput 0.2}.
const (
	signedLatencyWeight   = 0.5
	signedErrorRateWeight = 0.3
	signedThroughputWeight = 0.2
)

// Analyze computes a DeviationReport for result against the most recent
// history for result.TestName. ok is false when no baseline can be
// synthesized (fewer than 3 Completed records), matching spec §7's
// "absent DeviationReport, not an error" rule for analyzer failures.
func (a *Analyzer) Analyze(ctx context.Context, result domain.RunResult) (domain.DeviationReport, bool, error) {
	baseline, ok, err := a.store.Baseline(ctx, result.TestName, a.baselineSampleSize())
	if err != nil {
		return domain.DeviationReport{}, false, err
	}
	if !ok {
		return domain.DeviationReport{}, false, nil
	}

	recent, err := a.store.Recent(ctx, result.TestName, a.trendSampleSize())
	if err != nil {
		return domain.DeviationReport{}, false, err
	}

	report := a.buildReport(result, baseline, recent)
	return report, true, nil
}

func (a *Analyzer) baselineSampleSize() int {
	if a.BaselineSampleSize > 0 {
		return a.BaselineSampleSize
	}
	return 20
}

func (a *Analyzer) trendSampleSize() int {
	if a.TrendSampleSize >= minTrendSamples {
		return a.TrendSampleSize
	}
	return minTrendSamples
}

func (a *Analyzer) buildReport(result domain.RunResult, baseline domain.HistoryRecord, recent []domain.HistoryRecord) domain.DeviationReport {
	latencyDev := deviation(result.Latency.AverageMs, baseline.AverageResponseTimeMs)
	errorDev := deviation(result.ErrorRatePercent, baseline.ErrorRatePercent)
	throughputDev := deviation(result.Throughput, baseline.RequestsPerSecond)
	cpuDev := deviation(result.CPUAvgPercent, baseline.CPUUsagePercent)
	memDev := deviation(result.MemAvgPercent, baseline.MemoryUsagePercent)

	overall := absoluteWeights.latency*math.Abs(latencyDev) +
		absoluteWeights.errorRate*math.Abs(errorDev) +
		absoluteWeights.throughput*math.Abs(throughputDev) +
		absoluteWeights.cpu*math.Abs(cpuDev) +
		absoluteWeights.mem*math.Abs(memDev)

	signed := signedLatencyWeight*latencyDev +
		signedErrorRateWeight*errorDev +
		signedThroughputWeight*throughputDev

	return domain.DeviationReport{
		TestName:                   result.TestName,
		BaselineAvgLatencyMs:       baseline.AverageResponseTimeMs,
		BaselineErrorRate:          baseline.ErrorRatePercent,
		BaselineThroughput:         baseline.RequestsPerSecond,
		CurrentAvgLatencyMs:        result.Latency.AverageMs,
		CurrentErrorRate:           result.ErrorRatePercent,
		CurrentThroughput:          result.Throughput,
		LatencyDeviationPercent:    latencyDev,
		ErrorRateDeviationPercent:  errorDev,
		ThroughputDeviationPercent: throughputDev,
		OverallDeviationScore:      overall,
		SignedScore:                signed,
		Trend:                      trendDirection(recent),
		ConfidencePercent:          confidenceLevel(latencyDev),
		SampleSize:                 len(recent),
		Recommendations:            recommendations(latencyDev, errorDev, throughputDev),
	}
}

// trendDirection implements spec §4.7's joint latency+error-rate rule
// over recent (newest first, at least minTrendSamples long to classify
// anything but Stable): split into halves, Improving if both metrics
// drop by more than 10% of their first-half mean, Degrading if both
// worsen symmetrically, else Stable. Spec §9 note 3: kept joint, not
// classified per metric.
func trendDirection(recent []domain.HistoryRecord) domain.Trend {
	if len(recent) < minTrendSamples {
		return domain.TrendStable
	}

	// recent is newest-first; reverse to chronological order so "first
	// half" means the older half.
	chron := make([]domain.HistoryRecord, len(recent))
	for i, r := range recent {
		chron[len(recent)-1-i] = r
	}

	mid := len(chron) / 2
	firstHalf, secondHalf := chron[:mid], chron[mid:]
	if len(firstHalf) == 0 || len(secondHalf) == 0 {
		return domain.TrendStable
	}

	firstLatency, firstError := meanLatencyAndError(firstHalf)
	secondLatency, secondError := meanLatencyAndError(secondHalf)

	latencyImproved := percentDrop(firstLatency, secondLatency) > 10
	errorImproved := percentDrop(firstError, secondError) > 10
	latencyDegraded := percentDrop(secondLatency, firstLatency) > 10
	errorDegraded := percentDrop(secondError, firstError) > 10

	switch {
	case latencyImproved && errorImproved:
		return domain.TrendImproving
	case latencyDegraded && errorDegraded:
		return domain.TrendDegrading
	default:
		return domain.TrendStable
	}
}

func meanLatencyAndError(recs []domain.HistoryRecord) (latency, errRate float64) {
	for _, r := range recs {
		latency += r.AverageResponseTimeMs
		errRate += r.ErrorRatePercent
	}
	n := float64(len(recs))
	return latency / n, errRate / n
}

// percentDrop returns how much to has dropped relative to from, as a
// positive percentage when to < from.
func percentDrop(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (from - to) / from * 100
}

// confidenceLevel implements spec §4.7's step function on
// |latency-deviation %|.
func confidenceLevel(latencyDeviationPercent float64) float64 {
	abs := math.Abs(latencyDeviationPercent)
	switch {
	case abs < 5:
		return 95
	case abs < 10:
		return 85
	case abs < 20:
		return 75
	case abs < 50:
		return 60
	default:
		return 50
	}
}

// recommendations implements spec §4.7's deterministic recommendation
// set.
func recommendations(latencyDev, errorDev, throughputDev float64) []string {
	var out []string
	if latencyDev > 20 {
		out = append(out, "Response time degraded; investigate queries/caching/scaling.")
	}
	if latencyDev < -20 {
		out = append(out, "Response time improved; current configuration is outperforming baseline.")
	}
	if errorDev > 10 {
		out = append(out, "Error rate rose; inspect logs and stability.")
	}
	if throughputDev < -20 {
		out = append(out, "Throughput dropped; consider load-balancing/scale-out.")
	}
	if len(out) == 0 {
		out = append(out, "Within normal range; continue monitoring.")
	}
	return out
}
