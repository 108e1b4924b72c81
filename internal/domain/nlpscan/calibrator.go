package nlpscan

import (
	"math/rand"
	"sort"
	"time"
)

// defaultSyncThreshold is the starting point before calibration and the
// ceiling calibration will never exceed (spec.md §4.3: "defaults to 512
// characters on reference hardware").
const defaultSyncThreshold = 512

// latencyBudgetNs is the portion of the 50ms total-added-latency budget
// (spec.md §1) reserved for the synchronous NLP pass; the remainder covers
// fast-path scanning, auth, and dispatch overhead.
const latencyBudgetNs = 20 * time.Millisecond

// sampleSizes are the corpus lengths the calibrator measures at startup,
// per spec.md §4.3 ("~100, ~500, ~1000 chars").
var sampleSizes = []int{100, 500, 1000}

// Calibrator measures NLP scan latency on the host at startup and derives
// the sync threshold below which NLP entity scanning runs inline on the
// request path rather than as an advisory background task.
type Calibrator struct {
	scanner *Scanner
}

// NewCalibrator creates a Calibrator around scanner.
func NewCalibrator(scanner *Scanner) *Calibrator {
	return &Calibrator{scanner: scanner}
}

// Calibrate measures p50/p99 scan latency over a synthetic sample corpus at
// each of sampleSizes and returns the largest sample length whose p99
// latency keeps total added latency within latencyBudgetNs. The result is
// quantized to the nearest 128 characters so repeated runs on the same
// host agree within one quantization step (spec.md §8, "Calibration").
func (c *Calibrator) Calibrate() int {
	threshold := defaultSyncThreshold

	for i := len(sampleSizes) - 1; i >= 0; i-- {
		size := sampleSizes[i]
		p99 := c.measureP99(size)
		if p99 <= latencyBudgetNs {
			threshold = size
			break
		}
		threshold = 0
	}

	return quantize(threshold)
}

// measureP99 scans a synthetic sample of the given length repeatedly and
// returns the 99th-percentile duration.
func (c *Calibrator) measureP99(size int) time.Duration {
	const iterations = 20
	sample := syntheticSample(size)

	durations := make([]time.Duration, 0, iterations)
	for i := 0; i < iterations; i++ {
		start := time.Now()
		c.scanner.Scan(sample)
		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := (len(durations) * 99) / 100
	if idx >= len(durations) {
		idx = len(durations) - 1
	}
	return durations[idx]
}

// syntheticSample builds a deterministic pseudo-English sample of length n
// containing no real entities, so calibration latency reflects the
// recognizer's cost rather than early-exit behavior on a match.
func syntheticSample(n int) string {
	const words = "the quick brown fox jumps over a lazy dog while the system processes requests and logs activity "
	r := rand.New(rand.NewSource(42))
	b := make([]byte, 0, n)
	for len(b) < n {
		start := r.Intn(len(words))
		b = append(b, words[start:]...)
	}
	return string(b[:n])
}

// quantize rounds v down to the nearest 128-character step, per spec.md
// §8's one-quantization-step calibration idempotence property.
func quantize(v int) int {
	const step = 128
	return (v / step) * step
}
