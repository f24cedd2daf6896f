package observability

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing count.
type Counter struct {
	value int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Gauge is a level that goes up and down and remembers its highest value.
type Gauge struct {
	value int64
	peak  int64
}

// Inc raises the gauge by 1.
func (g *Gauge) Inc() {
	v := atomic.AddInt64(&g.value, 1)
	for {
		p := atomic.LoadInt64(&g.peak)
		if v <= p || atomic.CompareAndSwapInt64(&g.peak, p, v) {
			return
		}
	}
}

// Dec lowers the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Value returns the current level.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Peak returns the highest level seen.
func (g *Gauge) Peak() int64 {
	return atomic.LoadInt64(&g.peak)
}

// TrainingBuckets are upper bounds in seconds sized for whole training
// runs, which take seconds to hours.
var TrainingBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200,
}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []int64 // last slot is +Inf
	sum     float64
	max     float64
	count   int64
}

// NewHistogram creates a histogram with the given bucket bounds, or
// TrainingBuckets when nil.
func NewHistogram(buckets []float64) *Histogram {
	if buckets == nil {
		buckets = TrainingBuckets
	}
	return &Histogram{
		buckets: buckets,
		counts:  make([]int64, len(buckets)+1),
	}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	h.max = max(h.max, v)
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

// Mean returns the mean observation, 0 when empty.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Quantile returns the upper bound of the bucket holding the q-th
// quantile, the largest observation when it falls past the last bound,
// and 0 when empty.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	rank := int64(math.Ceil(q * float64(h.count)))
	var seen int64
	for i, n := range h.counts {
		seen += n
		if seen >= rank && n > 0 {
			if i == len(h.buckets) {
				return h.max
			}
			return h.buckets[i]
		}
	}
	return h.max
}

// SweepMetrics counts what a sweep did: cache outcomes, trainer calls and
// their durations, and how many points trained at once. A nil
// *SweepMetrics records nothing.
type SweepMetrics struct {
	cacheHits      Counter
	cacheMisses    Counter
	cacheMismatch  Counter
	trainerCalls   Counter
	trainerErrors  Counter
	trainerSeconds *Histogram
	inFlight       Gauge
}

// NewSweepMetrics creates empty sweep metrics.
func NewSweepMetrics() *SweepMetrics {
	return &SweepMetrics{trainerSeconds: NewHistogram(nil)}
}

// RecordCacheHit records a matrix loaded from disk.
func (m *SweepMetrics) RecordCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// RecordCacheMiss records a matrix that had to be computed.
func (m *SweepMetrics) RecordCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// RecordMismatch records a cached matrix that did not fit its sweep.
func (m *SweepMetrics) RecordMismatch() {
	if m != nil {
		m.cacheMismatch.Inc()
	}
}

// StartPoint marks a sweep point as running and returns its finisher.
func (m *SweepMetrics) StartPoint() func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(err error) {
		m.inFlight.Dec()
		m.trainerCalls.Inc()
		m.trainerSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			m.trainerErrors.Inc()
		}
	}
}

// TrainerCalls returns how many training calls have finished.
func (m *SweepMetrics) TrainerCalls() int64 {
	if m == nil {
		return 0
	}
	return m.trainerCalls.Value()
}

// CacheHitRate returns the cache hit rate (0-1).
func (m *SweepMetrics) CacheHitRate() float64 {
	if m == nil {
		return 0
	}
	hits := m.cacheHits.Value()
	total := hits + m.cacheMisses.Value()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Summary is a point-in-time view of SweepMetrics.
type Summary struct {
	CacheHits          int64
	CacheMisses        int64
	CacheMismatches    int64
	CacheHitRate       float64
	TrainerCalls       int64
	TrainerErrors      int64
	MeanTrainerSeconds float64
	P90TrainerSeconds  float64
	PeakInFlight       int64
}

// Summary reads every metric once.
func (m *SweepMetrics) Summary() Summary {
	if m == nil {
		return Summary{}
	}
	return Summary{
		CacheHits:          m.cacheHits.Value(),
		CacheMisses:        m.cacheMisses.Value(),
		CacheMismatches:    m.cacheMismatch.Value(),
		CacheHitRate:       m.CacheHitRate(),
		TrainerCalls:       m.trainerCalls.Value(),
		TrainerErrors:      m.trainerErrors.Value(),
		MeanTrainerSeconds: m.trainerSeconds.Mean(),
		P90TrainerSeconds:  m.trainerSeconds.Quantile(0.9),
		PeakInFlight:       m.inFlight.Peak(),
	}
}

// LogValue groups the summary under one log key.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("cache_hits", s.CacheHits),
		slog.Int64("cache_misses", s.CacheMisses),
		slog.Int64("cache_mismatches", s.CacheMismatches),
		slog.Float64("cache_hit_rate", s.CacheHitRate),
		slog.Int64("trainer_calls", s.TrainerCalls),
		slog.Int64("trainer_errors", s.TrainerErrors),
		slog.Float64("trainer_seconds_mean", s.MeanTrainerSeconds),
		slog.Float64("trainer_seconds_p90", s.P90TrainerSeconds),
		slog.Int64("peak_in_flight", s.PeakInFlight),
	)
}
