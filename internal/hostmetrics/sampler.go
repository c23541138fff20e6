// Package hostmetrics samples CPU and memory utilization of the host
// running the load driver, on a fixed cadence, for inclusion in a run's
// RunResult (CPUAvgPercent / MemAvgPercent).
package hostmetrics

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loadsmith/loadsmith/internal/logging"
)

// Snapshot is a single point-in-time reading.
type Snapshot struct {
	Timestamp time.Time
	CPUPercent float64
	MemPercent float64
}

// Summary aggregates every Snapshot taken between Start and Stop.
type Summary struct {
	SampleCount int
	CPUMean     float64
	CPUMin      float64
	CPUMax      float64
	MemMean     float64
	MemMin      float64
	MemMax      float64
}

// Sampler periodically reads host CPU/memory utilization. The zero value
// is not usable; construct with New.
type Sampler struct {
	logger   logging.Logger
	interval time.Duration

	mu       sync.Mutex
	running  bool
	samples  []Snapshot
	warned   bool

	stopChan chan struct{}
	doneChan chan struct{}

	cpuReader cpuReader
}

// New constructs a Sampler with the given cadence. A non-positive
// interval defaults to 1 second, matching the spec's default sampling
// rate.
func New(logger logging.Logger, interval time.Duration) *Sampler {
	if logger == nil {
		logger = logging.NewDefault()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		logger:    logger.With(logging.F.String("component", "hostmetrics")),
		interval:  interval,
		cpuReader: newCPUReader(),
	}
}

// Start begins sampling in a background goroutine. It returns an error if
// the sampler is already running.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.running = true
	s.samples = s.samples[:0]
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop halts sampling and returns the aggregated Summary over the run.
func (s *Sampler) Stop() Summary {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return Summary{}
	}
	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan

	return s.snapshot()
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.collectOne()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sampler) collectOne() {
	cpuPct, err := s.cpuReader.read()
	if err != nil {
		s.warnOnce("cpu utilization sampling degraded", err)
		cpuPct = 0
	}
	memPct, err := readMemPercent()
	if err != nil {
		s.warnOnce("memory utilization sampling degraded", err)
		memPct = 0
	}

	snap := Snapshot{Timestamp: time.Now(), CPUPercent: cpuPct, MemPercent: memPct}

	s.mu.Lock()
	s.samples = append(s.samples, snap)
	s.mu.Unlock()
}

func (s *Sampler) warnOnce(msg string, err error) {
	s.mu.Lock()
	already := s.warned
	s.warned = true
	s.mu.Unlock()
	if !already {
		s.logger.Warn(msg, logging.F.Err(err))
	}
}

func (s *Sampler) snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		return Summary{}
	}

	sum := Summary{
		SampleCount: len(s.samples),
		CPUMin:      s.samples[0].CPUPercent,
		CPUMax:      s.samples[0].CPUPercent,
		MemMin:      s.samples[0].MemPercent,
		MemMax:      s.samples[0].MemPercent,
	}
	var cpuTotal, memTotal float64
	for _, sample := range s.samples {
		cpuTotal += sample.CPUPercent
		memTotal += sample.MemPercent
		if sample.CPUPercent < sum.CPUMin {
			sum.CPUMin = sample.CPUPercent
		}
		if sample.CPUPercent > sum.CPUMax {
			sum.CPUMax = sample.CPUPercent
		}
		if sample.MemPercent < sum.MemMin {
			sum.MemMin = sample.MemPercent
		}
		if sample.MemPercent > sum.MemMax {
			sum.MemMax = sample.MemPercent
		}
	}
	sum.CPUMean = cpuTotal / float64(len(s.samples))
	sum.MemMean = memTotal / float64(len(s.samples))
	return sum
}

var errAlreadyRunning = &samplerError{"hostmetrics sampler already running"}

type samplerError struct{ msg string }

func (e *samplerError) Error() string { return e.msg }

// cpuReader computes instantaneous CPU utilization from two /proc/stat
// reads taken slightly apart, since a single read only yields a
// cumulative since-boot counter.
type cpuReader interface {
	read() (float64, error)
}

func newCPUReader() cpuReader {
	if runtime.GOOS != "linux" {
		return unsupportedCPUReader{}
	}
	return &procStatReader{}
}

type unsupportedCPUReader struct{}

func (unsupportedCPUReader) read() (float64, error) { return 0, errUnsupportedPlatform }

var errUnsupportedPlatform = &samplerError{"host cpu sampling is only implemented for linux"}

type procStatReader struct{}

func (r *procStatReader) read() (float64, error) {
	first, err := readCPUTimes()
	if err != nil {
		return 0, err
	}
	time.Sleep(120 * time.Millisecond)
	second, err := readCPUTimes()
	if err != nil {
		return 0, err
	}

	totalDelta := second.total() - first.total()
	idleDelta := second.idle - first.idle
	if totalDelta <= 0 {
		return 0, nil
	}
	used := totalDelta - idleDelta
	return 100 * float64(used) / float64(totalDelta), nil
}

type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq uint64
}

func (c cpuTimes) total() uint64 {
	return c.user + c.nice + c.system + c.idle + c.iowait + c.irq + c.softirq
}

func readCPUTimes() (cpuTimes, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuTimes{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return cpuTimes{}, &samplerError{"unexpected /proc/stat format"}
		}
		parse := func(i int) uint64 {
			v, _ := strconv.ParseUint(fields[i], 10, 64)
			return v
		}
		return cpuTimes{
			user:    parse(1),
			nice:    parse(2),
			system:  parse(3),
			idle:    parse(4),
			iowait:  parse(5),
			irq:     parse(6),
			softirq: parse(7),
		}, nil
	}
	return cpuTimes{}, &samplerError{"cpu line not found in /proc/stat"}
}

func readMemPercent() (float64, error) {
	if runtime.GOOS != "linux" {
		return 0, errUnsupportedPlatform
	}
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var total, available uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = value
		case "MemAvailable:":
			available = value
		}
	}
	if total == 0 {
		return 0, &samplerError{"MemTotal not found in /proc/meminfo"}
	}
	used := total - available
	return 100 * float64(used) / float64(total), nil
}
