// Package driver runs a scenario's steps against a fixed pool of
// concurrent workers, pacing request issue according to the scenario's
// load profile and recording every outcome to the aggregator. It is the
// part of the engine that actually generates load.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/loadsmith/loadsmith/internal/adapters"
	"github.com/loadsmith/loadsmith/internal/aggregator"
	"github.com/loadsmith/loadsmith/internal/domain"
	"github.com/loadsmith/loadsmith/internal/logging"
	"github.com/pkg/errors"
)

// cancellationGrace is how long in-flight requests are given to finish
// after cancellation or deadline before being forced to fail.
const cancellationGrace = 5 * time.Second

// ErrNoEnabledSteps is returned by Run when a scenario's every step is
// disabled, leaving nothing for the worker pool to execute.
var ErrNoEnabledSteps = errors.New("scenario has no enabled steps to run")

// Driver dispatches a scenario's steps across a fixed worker pool for
// the duration of a run.
type Driver struct {
	scenario   domain.Scenario
	dispatcher *adapters.Dispatcher
	agg        *aggregator.Aggregator
	logger     logging.Logger
}

// New builds a Driver for one run of scenario.
func New(scenario domain.Scenario, dispatcher *adapters.Dispatcher, agg *aggregator.Aggregator, logger logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Driver{
		scenario:   scenario,
		dispatcher: dispatcher,
		agg:        agg,
		logger:     logger.With(logging.F.String("component", "driver")),
	}
}

// WorkerCount derives W from the scenario's load profile. Stress uses
// MaxConcurrency; every other profile starts from the scenario's
// configured concurrent users, capped by MaxConcurrentUsers when set.
func (d *Driver) WorkerCount() int {
	return workerCount(d.scenario)
}

func workerCount(scenario domain.Scenario) int {
	lp := scenario.LoadProfile
	if lp.Type == domain.ProfileStress {
		if lp.MaxConcurrency > 0 {
			return lp.MaxConcurrency
		}
		if scenario.Settings.ConcurrentUsers > 0 {
			return scenario.Settings.ConcurrentUsers
		}
		return 1
	}

	w := scenario.Settings.ConcurrentUsers
	if w <= 0 {
		w = 1
	}
	if lp.MaxConcurrentUsers > 0 && w > lp.MaxConcurrentUsers {
		w = lp.MaxConcurrentUsers
	}
	return w
}

// Run drives the scenario until deadline, or until ctx is cancelled plus
// the cancellation grace window. It returns once every worker has
// stopped issuing and drained.
func (d *Driver) Run(ctx context.Context, start time.Time, deadline time.Time) error {
	steps := d.scenario.EnabledSteps()
	if len(steps) == 0 {
		return errors.Wrapf(ErrNoEnabledSteps, "scenario %q", d.scenario.Name)
	}

	workers := workerCount(d.scenario)
	d.logger.Info("starting load driver",
		logging.F.String("scenario", d.scenario.Name),
		logging.F.Int("workers", workers),
		logging.F.String("mode", d.scenario.ExecutionMode.String()),
		logging.F.String("profile", d.scenario.LoadProfile.Type.String()),
	)

	stopCh := make(chan struct{})
	graceCtx, cancelGrace := context.WithCancel(context.Background())
	defer cancelGrace()

	go func() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		close(stopCh)
	}()
	go func() {
		<-stopCh
		select {
		case <-time.After(cancellationGrace):
		case <-graceCtx.Done():
		}
		cancelGrace()
	}()

	pc := newPacer(d.scenario.LoadProfile)
	totalDuration := d.scenario.LoadProfile.Duration()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		seq := newSequencer(d.scenario.ExecutionMode, steps, i, int64(i)+start.UnixNano())
		if gs, ok := seq.(*groupedSequencer); ok {
			gs.setTotalDuration(int64(totalDuration))
		}

		wg.Add(1)
		go d.runWorker(graceCtx, stopCh, i, workers, steps, seq, pc, start, &wg)
	}
	wg.Wait()

	d.logger.Info("load driver finished", logging.F.String("scenario", d.scenario.Name))
	return nil
}

func (d *Driver) runWorker(
	dispatchCtx context.Context,
	stopCh <-chan struct{},
	workerID int,
	workers int,
	steps []domain.Step,
	seq sequencer,
	pc pacer,
	start time.Time,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		elapsed := time.Since(start)
		idx := seq.next(int64(elapsed))
		step := steps[idx]

		iterStart := time.Now()
		outcome, err := d.dispatchUnit(dispatchCtx, steps, idx, step)
		latencyMs := float64(time.Since(iterStart)) / float64(time.Millisecond)

		d.agg.Record(workerID, outcome, latencyMs)
		if err != nil && outcome != domain.OutcomeOK {
			d.logger.Debug("step failed",
				logging.F.String("step", step.Name),
				logging.F.String("outcome", outcome.String()),
				logging.F.Err(err),
			)
		}

		targetRPS := pc.targetRPS(time.Since(start))
		if targetRPS > 0 {
			interarrival := time.Duration(float64(workers) / targetRPS * float64(time.Second))
			if sleepFor := interarrival - time.Since(iterStart); sleepFor > 0 {
				select {
				case <-time.After(sleepFor):
				case <-stopCh:
					return
				}
			}
		}
	}
}

// dispatchUnit issues the chosen step, pairing it with the previous step
// in the scenario's step list when combinedWithPrevious is set. A
// failure of either half is reported as a single outcome.
func (d *Driver) dispatchUnit(ctx context.Context, steps []domain.Step, idx int, step domain.Step) (domain.Outcome, error) {
	if !step.CombinedWithPrevious || idx == 0 {
		res := d.dispatcher.Execute(ctx, step)
		return res.Outcome, res.Err
	}

	first := d.dispatcher.Execute(ctx, steps[idx-1])
	second := d.dispatcher.Execute(ctx, step)

	if first.Outcome == domain.OutcomeFailTransport || second.Outcome == domain.OutcomeFailTransport {
		if first.Err != nil {
			return domain.OutcomeFailTransport, first.Err
		}
		return domain.OutcomeFailTransport, second.Err
	}
	if first.Outcome != domain.OutcomeOK {
		return first.Outcome, first.Err
	}
	if second.Outcome != domain.OutcomeOK {
		return second.Outcome, second.Err
	}
	return domain.OutcomeOK, nil
}
