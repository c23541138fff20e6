package history

import (
	"context"
	"time"

	"github.com/loadsmith/loadsmith/internal/logging"
)

// RetentionSweeper runs Store.Cleanup on a fixed cadence, matching the
// background-ticker idiom the teacher uses for its database health
// checker (start/stop channel, ticker, select). Supplemented per
// SPEC_FULL.md §5: cleanup is wired to run continuously, not only
// on-demand.
type RetentionSweeper struct {
	store         Store
	retentionDays int
	interval      time.Duration
	logger        logging.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRetentionSweeper builds a sweeper that deletes records older than
// retentionDays (default 90, per spec §3's lifecycle note) every
// interval.
func NewRetentionSweeper(store Store, retentionDays int, interval time.Duration, logger logging.Logger) *RetentionSweeper {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &RetentionSweeper{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With(logging.F.String("component", "retention_sweeper")),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (r *RetentionSweeper) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				deleted, err := r.store.Cleanup(ctx, r.retentionDays)
				if err != nil {
					// PersistenceError on retention cleanup is logged and
					// swallowed per spec §7.
					r.logger.Warn("retention sweep failed", logging.F.Err(err))
					continue
				}
				if deleted > 0 {
					r.logger.Info("retention sweep removed records", logging.F.Int("deleted", deleted))
				}
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (r *RetentionSweeper) Stop() {
	close(r.stop)
	<-r.done
}
