package stream

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Summary of the frame processing durations in the current window, in
// milliseconds
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	P95    float64
}

// Stats keeps a rolling window of frame processing durations
type Stats struct {
	mu     sync.Mutex
	window []float64
	next   int
	full   bool
	total  uint64
}

// NewStats returns Stats holding the last size durations
func NewStats(size int) *Stats {

	if size < 1 {
		size = 1
	}

	return &Stats{
		window: make([]float64, size),
	}
}

// Add records a processing duration and returns the total number of
// durations recorded
func (s *Stats) Add(d time.Duration) uint64 {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window[s.next] = float64(d) / float64(time.Millisecond)
	s.next++

	if s.next == len(s.window) {
		s.next = 0
		s.full = true
	}

	s.total++

	return s.total
}

// Summary computes the mean, standard deviation and 95th percentile of the
// window
func (s *Stats) Summary() Summary {

	s.mu.Lock()

	n := s.next
	if s.full {
		n = len(s.window)
	}

	vals := make([]float64, n)
	copy(vals, s.window[:n])

	s.mu.Unlock()

	if n == 0 {
		return Summary{}
	}

	sum := Summary{Count: n}

	if n == 1 {
		sum.Mean = vals[0]
		sum.P95 = vals[0]
		return sum
	}

	sum.Mean, sum.StdDev = stat.MeanStdDev(vals, nil)

	sort.Float64s(vals)
	sum.P95 = stat.Quantile(0.95, stat.Empirical, vals, nil)

	return sum
}
