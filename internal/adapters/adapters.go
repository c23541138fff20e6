// Package adapters dispatches a domain.Step to the concrete protocol that
// implements it: an HTTP call, a SQL procedure or query, a plain wait, or
// a database connection probe. Each adapter classifies its outcome as
// domain.OutcomeOK, domain.OutcomeFailRequest (the target responded with
// an application-level failure) or domain.OutcomeFailTransport (the
// target could not be reached at all). Only failures to reach the target
// count toward tripping an adapter's circuit breaker.
package adapters

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/script"
)

// StepResult is what dispatching a single step produced.
type StepResult struct {
	Outcome   domain.Outcome
	LatencyMs float64
	Err       error
}

// StepAdapter executes one step and reports how it went.
type StepAdapter interface {
	Execute(ctx context.Context, step domain.Step) StepResult
}

// Dispatcher routes a step to the adapter registered for its type.
type Dispatcher struct {
	HTTP   *HTTPAdapter
	SQL    *SQLAdapter
	Script *script.Registry
}

// NewDispatcher wires the protocol adapters this engine ships with.
// Script may be nil, in which case CustomScript steps report
// NotSupported as spec §4.4 step 3 allows.
func NewDispatcher(http *HTTPAdapter, sql *SQLAdapter, scriptRegistry *script.Registry) *Dispatcher {
	return &Dispatcher{HTTP: http, SQL: sql, Script: scriptRegistry}
}

// Execute dispatches step to the adapter for its type, timing the call.
func (d *Dispatcher) Execute(ctx context.Context, step domain.Step) StepResult {
	start := time.Now()
	switch step.Type {
	case domain.StepHttpApi:
		if d.HTTP == nil {
			return transportFailure(start, fmt.Errorf("step %q: no http adapter configured", step.Name))
		}
		return d.HTTP.Execute(ctx, step)
	case domain.StepSqlProcedure, domain.StepSqlQuery:
		if d.SQL == nil {
			return transportFailure(start, fmt.Errorf("step %q: no sql adapter configured", step.Name))
		}
		return d.SQL.Execute(ctx, step)
	case domain.StepDatabaseConnection:
		if d.SQL == nil {
			return transportFailure(start, fmt.Errorf("step %q: no sql adapter configured", step.Name))
		}
		return d.SQL.ExecuteConnectionProbe(ctx, step)
	case domain.StepWait:
		return executeWait(ctx, step, start)
	case domain.StepCustomScript:
		if d.Script == nil {
			return StepResult{
				Outcome:   domain.OutcomeFailRequest,
				LatencyMs: msSince(start),
				Err:       fmt.Errorf("step %q: customScript steps are not supported (no script registry configured)", step.Name),
			}
		}
		if err := d.Script.Execute(ctx, step.Configuration); err != nil {
			return StepResult{Outcome: domain.OutcomeFailRequest, LatencyMs: msSince(start), Err: err}
		}
		return StepResult{Outcome: domain.OutcomeOK, LatencyMs: msSince(start)}
	default:
		return StepResult{
			Outcome:   domain.OutcomeFailRequest,
			LatencyMs: msSince(start),
			Err:       fmt.Errorf("step %q: %s steps are not supported", step.Name, step.Type),
		}
	}
}

func executeWait(ctx context.Context, step domain.Step, start time.Time) StepResult {
	ms := numericConfig(step.Configuration["durationMs"])
	variation := numericConfig(step.Configuration["randomVariationMs"])
	wait := time.Duration(ms) * time.Millisecond
	if variation > 0 {
		wait += time.Duration(rand.Float64()*2*variation-variation) * time.Millisecond
		if wait < 0 {
			wait = 0
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return StepResult{Outcome: domain.OutcomeOK, LatencyMs: msSince(start)}
	case <-ctx.Done():
		return StepResult{Outcome: domain.OutcomeFailTransport, LatencyMs: msSince(start), Err: ctx.Err()}
	}
}

// numericConfig coerces a step configuration value to float64, accepting
// the same int/int64/float64 shapes domain.Step.Validate tolerates, so a
// Wait step loaded from YAML (where whole numbers decode to int) paces
// the same as one loaded from JSON (float64).
func numericConfig(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func transportFailure(start time.Time, err error) StepResult {
	return StepResult{Outcome: domain.OutcomeFailTransport, LatencyMs: msSince(start), Err: err}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
