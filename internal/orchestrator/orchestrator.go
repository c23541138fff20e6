// Package orchestrator runs a single scenario end-to-end: it starts the
// host metrics sampler, runs the load driver for the scenario's
// duration, and composes the aggregator and sampler snapshots into a
// RunResult with a derived completion status and impact rating.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loadsmith/loadsmith/internal/adapters"
	"github.com/loadsmith/loadsmith/internal/aggregator"
	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/driver"
	"github.com/loadsmith/loadsmith/internal/hostmetrics"
	"github.com/loadsmith/loadsmith/internal/logging"
	"github.com/loadsmith/loadsmith/internal/scenario"
)

// ConfigurationNotFoundError reports a scenario name with no loaded
// definition, per spec §7's ConfigurationNotFound error kind.
type ConfigurationNotFoundError struct {
	Name string
}

func (e *ConfigurationNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q not found", e.Name)
}

// Orchestrator ties the loader, driver, sampler, and aggregator together
// into single scenario executions.
type Orchestrator struct {
	loader     *scenario.Loader
	dispatcher *adapters.Dispatcher
	logger     logging.Logger
}

// New builds an Orchestrator. dispatcher is shared across every run this
// orchestrator executes, so circuit breaker state persists between runs.
func New(loader *scenario.Loader, dispatcher *adapters.Dispatcher, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Orchestrator{
		loader:     loader,
		dispatcher: dispatcher,
		logger:     logger.With(logging.F.String("component", "orchestrator")),
	}
}

// ExecuteByName resolves name via the loader and executes it.
func (o *Orchestrator) ExecuteByName(ctx context.Context, name string) (domain.RunResult, error) {
	sc, ok := o.loader.Get(name)
	if !ok {
		return domain.RunResult{}, &ConfigurationNotFoundError{Name: name}
	}
	return o.Execute(ctx, sc)
}

// Execute runs sc to completion (or cancellation) and returns the
// composed RunResult.
func (o *Orchestrator) Execute(ctx context.Context, sc domain.Scenario) (domain.RunResult, error) {
	runID := uuid.NewString()
	logger := o.logger.With(logging.F.Scenario(sc.Name, runID)...)

	sampler := hostmetrics.New(logger, time.Second)
	agg := aggregator.New(0)
	drv := driver.New(sc, o.dispatcher, agg, logger)

	start := time.Now()
	runDuration := sc.LoadProfile.Duration()
	if scenarioDuration := time.Duration(sc.Settings.DurationSeconds) * time.Second; scenarioDuration > runDuration {
		runDuration = scenarioDuration
	}
	deadline := start.Add(runDuration)

	if err := sampler.Start(ctx); err != nil {
		logger.Warn("host metrics sampler unavailable", logging.F.Err(err))
	}

	cancelledBeforeDeadline := false
	driverErr := drv.Run(ctx, start, deadline)
	if ctx.Err() != nil && time.Now().Before(deadline) {
		cancelledBeforeDeadline = true
	}

	hostSummary := sampler.Stop()
	end := time.Now()

	if driverErr != nil {
		logger.Error("load driver failed fatally", driverErr)
		return domain.RunResult{
			ID:           runID,
			TestName:     sc.Name,
			StartTime:    start,
			EndTime:      end,
			DurationSec:  end.Sub(start).Seconds(),
			Status:       domain.StatusFailed,
			ErrorMessage: driverErr.Error(),
		}, nil
	}

	latency, total, successful, failed, errRate, throughput, breakdown := agg.Snapshot(end.Sub(start))

	// Zero-valued thresholds fall back to the scenario's own defaults.
	thresholds := sc.Thresholds
	if thresholds.MaxErrorRatePercent == 0 {
		thresholds.MaxErrorRatePercent = sc.Settings.MaxErrorRatePercent
	}
	if thresholds.MaxAverageMs == 0 {
		thresholds.MaxAverageMs = sc.Settings.ExpectedResponseTimeMs
	}
	if thresholds.MaxP95Ms == 0 {
		thresholds.MaxP95Ms = 1.5 * thresholds.MaxAverageMs
	}
	if thresholds.MaxP99Ms == 0 {
		thresholds.MaxP99Ms = 2.0 * thresholds.MaxAverageMs
	}

	result := domain.RunResult{
		ID:                 runID,
		TestName:           sc.Name,
		StartTime:          start,
		EndTime:            end,
		DurationSec:        end.Sub(start).Seconds(),
		TotalRequests:      total,
		SuccessfulRequests: successful,
		FailedRequests:     failed,
		ErrorRatePercent:   errRate,
		Latency:            latency,
		Throughput:         throughput,
		CPUAvgPercent:      hostSummary.CPUMean,
		MemAvgPercent:      hostSummary.MemMean,
		ThresholdsUsed:     thresholds,
		WorkerBreakdown:    breakdown,
	}

	result.Status, result.JudgedPassed = deriveStatus(thresholds, result, cancelledBeforeDeadline)
	result.Impact = deriveImpact(sc.Settings.ExpectedResponseTimeMs, result)

	logger.Info("run completed",
		logging.F.String("status", result.Status.String()),
		logging.F.Bool("judged_passed", result.JudgedPassed),
		logging.F.String("impact", result.Impact.String()),
		logging.F.Int64("total_requests", result.TotalRequests),
	)

	return result, nil
}

// deriveStatus implements spec §4.5.1: Status = Failed iff any
// threshold is exceeded, else Completed; Cancelled overrides both when
// cancellation fired before the scheduled deadline.
func deriveStatus(t domain.ThresholdSet, r domain.RunResult, cancelledBeforeDeadline bool) (domain.RunStatus, bool) {
	passed := true
	if t.MaxErrorRatePercent > 0 && r.ErrorRatePercent > t.MaxErrorRatePercent {
		passed = false
	}
	if t.MaxAverageMs > 0 && r.Latency.AverageMs > t.MaxAverageMs {
		passed = false
	}
	if t.MaxP95Ms > 0 && r.Latency.P95Ms > t.MaxP95Ms {
		passed = false
	}
	if t.MaxP99Ms > 0 && r.Latency.P99Ms > t.MaxP99Ms {
		passed = false
	}
	if t.MinRps != nil && r.Throughput < *t.MinRps {
		passed = false
	}

	if cancelledBeforeDeadline {
		return domain.StatusCancelled, passed
	}
	if !passed {
		return domain.StatusFailed, passed
	}
	return domain.StatusCompleted, passed
}

// deriveImpact implements the five-bucket impact rule from spec §4.5.1.
func deriveImpact(expectedMs float64, r domain.RunResult) domain.ImpactLevel {
	switch {
	case r.ErrorRatePercent > 10:
		return domain.ImpactCritical
	case expectedMs <= 0:
		return domain.ImpactNone
	case r.Latency.AverageMs > 2*expectedMs:
		return domain.ImpactMajor
	case r.Latency.AverageMs > 1.5*expectedMs:
		return domain.ImpactModerate
	case r.Latency.AverageMs > expectedMs:
		return domain.ImpactMinor
	default:
		return domain.ImpactNone
	}
}
