// Package history persists RunResult records as HistoryRecord rows and
// answers the queries the deviation analyzer needs: recency, date range,
// and baseline synthesis (spec §4.6). Two backends are provided: an
// in-memory Store (default) and a relational Store backed by pgx
// (spec §6.2's schema), matching the "two backends, same semantics"
// requirement.
package history

import (
	"context"
	"time"

	"github.com/loadsmith/loadsmith/internal/domain"
)

// Store is the contract both backends satisfy. Implementations must be
// safe for concurrent readers; the orchestrator is the sole writer.
type Store interface {
	// Append persists result and returns its projected HistoryRecord.
	Append(ctx context.Context, result domain.RunResult) (domain.HistoryRecord, error)

	// ListByTest returns every record for name, oldest first.
	ListByTest(ctx context.Context, name string) ([]domain.HistoryRecord, error)

	// Recent returns at most n records for name, newest first.
	Recent(ctx context.Context, name string, n int) ([]domain.HistoryRecord, error)

	// ByRange returns records for name executed within [from, to].
	ByRange(ctx context.Context, name string, from, to time.Time) ([]domain.HistoryRecord, error)

	// Baseline synthesizes a mean-valued record from the most recent
	// sampleSize Completed records for name. It returns ok == false when
	// fewer than 3 Completed records exist (spec §4.6, invariant §8.8).
	Baseline(ctx context.Context, name string, sampleSize int) (rec domain.HistoryRecord, ok bool, err error)

	// Cleanup deletes records older than retentionDays and returns the
	// count removed. Failures are the caller's to log and swallow
	// (spec §7, PersistenceError on retention sweep).
	Cleanup(ctx context.Context, retentionDays int) (int, error)
}

// minBaselineSamples is the fewest Completed records baseline() needs
// before it will synthesize anything (spec §4.6, invariant §8.8).
const minBaselineSamples = 3

// baselineFromRecent computes the synthetic baseline record spec §4.6
// describes: arithmetic means over numeric fields, modal impact, from a
// already-sorted-newest-first, already-Completed-only slice. Shared by
// both backends so the synthesis rule can't drift between them.
func baselineFromRecent(name string, recent []domain.HistoryRecord) (domain.HistoryRecord, bool) {
	if len(recent) < minBaselineSamples {
		return domain.HistoryRecord{}, false
	}

	var sum domain.HistoryRecord
	impactVotes := make(map[domain.ImpactLevel]int, len(recent))
	for _, r := range recent {
		sum.DurationSeconds += r.DurationSeconds
		sum.TotalRequests += r.TotalRequests
		sum.SuccessfulRequests += r.SuccessfulRequests
		sum.FailedRequests += r.FailedRequests
		sum.ErrorRatePercent += r.ErrorRatePercent
		sum.AverageResponseTimeMs += r.AverageResponseTimeMs
		sum.MinResponseTimeMs += r.MinResponseTimeMs
		sum.MaxResponseTimeMs += r.MaxResponseTimeMs
		sum.P95ResponseTimeMs += r.P95ResponseTimeMs
		sum.P99ResponseTimeMs += r.P99ResponseTimeMs
		sum.RequestsPerSecond += r.RequestsPerSecond
		sum.CPUUsagePercent += r.CPUUsagePercent
		sum.MemoryUsagePercent += r.MemoryUsagePercent
		impactVotes[r.PerformanceImpact]++
	}

	n := float64(len(recent))
	baseline := domain.HistoryRecord{
		TestName:              name,
		ExecutionDate:         recent[0].ExecutionDate,
		DurationSeconds:       sum.DurationSeconds / n,
		TotalRequests:         sum.TotalRequests / int64(len(recent)),
		SuccessfulRequests:    sum.SuccessfulRequests / int64(len(recent)),
		FailedRequests:        sum.FailedRequests / int64(len(recent)),
		ErrorRatePercent:      sum.ErrorRatePercent / n,
		AverageResponseTimeMs: sum.AverageResponseTimeMs / n,
		MinResponseTimeMs:     sum.MinResponseTimeMs / n,
		MaxResponseTimeMs:     sum.MaxResponseTimeMs / n,
		P95ResponseTimeMs:     sum.P95ResponseTimeMs / n,
		P99ResponseTimeMs:     sum.P99ResponseTimeMs / n,
		RequestsPerSecond:     sum.RequestsPerSecond / n,
		CPUUsagePercent:       sum.CPUUsagePercent / n,
		MemoryUsagePercent:    sum.MemoryUsagePercent / n,
		PerformanceImpact:     modalImpact(impactVotes),
		Status:                domain.StatusCompleted,
	}
	return baseline, true
}

func modalImpact(votes map[domain.ImpactLevel]int) domain.ImpactLevel {
	var best domain.ImpactLevel
	bestCount := -1
	// Iterate in ascending ImpactLevel order so a tie resolves to the
	// lower (more conservative) level deterministically.
	for level := domain.ImpactNone; level <= domain.ImpactCritical; level++ {
		if c := votes[level]; c > bestCount {
			best, bestCount = level, c
		}
	}
	return best
}
