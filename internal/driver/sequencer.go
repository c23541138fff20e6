package driver

import (
	"math/rand"

	"github.com/loadsmith/loadsmith/internal/domain"
)

// sequencer picks the next step index (into the scenario's enabled-steps
// slice, in original order) a worker should issue. Each worker owns one
// sequencer instance, so no synchronization is needed inside it.
type sequencer interface {
	next(elapsed int64) int
}

func newSequencer(mode domain.ExecutionMode, steps []domain.Step, workerID int, seed int64) sequencer {
	switch mode {
	case domain.ModeSequential:
		return &sequentialSequencer{steps: steps, cursor: workerID % len(steps)}
	case domain.ModeWeighted:
		return &weightedSequencer{steps: steps, rng: rand.New(rand.NewSource(seed))}
	case domain.ModeGrouped:
		return newGroupedSequencer(steps, workerID)
	default: // Parallel
		return &parallelSequencer{index: workerID % len(steps)}
	}
}

type parallelSequencer struct {
	index int
}

func (s *parallelSequencer) next(int64) int { return s.index }

type sequentialSequencer struct {
	steps  []domain.Step
	cursor int
}

func (s *sequentialSequencer) next(int64) int {
	idx := s.cursor
	s.cursor = (s.cursor + 1) % len(s.steps)
	return idx
}

type weightedSequencer struct {
	steps []domain.Step
	rng   *rand.Rand
}

func (s *weightedSequencer) next(int64) int {
	total := 0
	for _, st := range s.steps {
		total += st.Weight
	}
	if total <= 0 {
		return 0
	}
	draw := s.rng.Intn(total)
	acc := 0
	for i, st := range s.steps {
		acc += st.Weight
		if draw < acc {
			return i
		}
	}
	return len(s.steps) - 1
}

// groupedSequencer buckets enabled steps by type, preserving the order
// buckets first appear in. Bucket k+1 begins only after bucket k's
// deadline; each bucket gets an even share of the scenario duration.
type groupedSequencer struct {
	buckets     [][]int // indices into the original steps slice, per bucket
	bucketShare int64   // nanoseconds each bucket owns
	workerID    int
}

func newGroupedSequencer(steps []domain.Step, workerID int) *groupedSequencer {
	order := make([]domain.StepType, 0)
	byType := make(map[domain.StepType][]int)
	for i, st := range steps {
		if _, ok := byType[st.Type]; !ok {
			order = append(order, st.Type)
		}
		byType[st.Type] = append(byType[st.Type], i)
	}
	buckets := make([][]int, 0, len(order))
	for _, t := range order {
		buckets = append(buckets, byType[t])
	}
	return &groupedSequencer{buckets: buckets, workerID: workerID}
}

// setTotalDuration must be called once, after construction, with the
// scenario's total run duration so bucket boundaries can be computed.
func (s *groupedSequencer) setTotalDuration(totalNanos int64) {
	if len(s.buckets) == 0 {
		return
	}
	s.bucketShare = totalNanos / int64(len(s.buckets))
	if s.bucketShare <= 0 {
		s.bucketShare = 1
	}
}

func (s *groupedSequencer) next(elapsed int64) int {
	bucketIdx := 0
	if s.bucketShare > 0 {
		bucketIdx = int(elapsed / s.bucketShare)
	}
	if bucketIdx >= len(s.buckets) {
		bucketIdx = len(s.buckets) - 1
	}
	bucket := s.buckets[bucketIdx]
	return bucket[s.workerID%len(bucket)]
}
