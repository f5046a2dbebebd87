package tasks

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/valyala/fastrand"
)

// Sample is one sensor reading.
type Sample struct {
	Type  string
	Value float64
}

// SensorReader produces one reading per metric it reports.
type SensorReader interface {
	Read(ctx context.Context) ([]Sample, error)
}

// Range bounds the integer values a MockReader produces, inclusive.
type Range struct {
	Min int
	Max int
}

// Ranges for the metrics of a simulated climate sensor.
var defaultMockRanges = map[string]Range{
	"temperature": {Min: 15, Max: 25},
	"humidity":    {Min: 50, Max: 100},
}

var fallbackMockRange = Range{Min: 0, Max: 100}

// MockReader simulates a sensor with uniformly distributed whole values.
type MockReader struct {
	metrics []string
	ranges  map[string]Range
}

// NewMockReader creates a reader for metrics. Metrics without an entry in
// ranges use the built-in climate ranges, or 0..100.
func NewMockReader(metrics []string, ranges map[string]Range) *MockReader {
	r := &MockReader{
		metrics: metrics,
		ranges:  make(map[string]Range, len(metrics)),
	}
	for _, m := range metrics {
		rg, ok := ranges[m]
		if !ok {
			rg, ok = defaultMockRanges[m]
		}
		if !ok {
			rg = fallbackMockRange
		}
		if rg.Max < rg.Min {
			rg.Min, rg.Max = rg.Max, rg.Min
		}
		r.ranges[m] = rg
	}
	return r
}

// Read implements SensorReader.
func (r *MockReader) Read(ctx context.Context) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Sample, 0, len(r.metrics))
	for _, m := range r.metrics {
		rg := r.ranges[m]
		span := uint32(rg.Max - rg.Min + 1)
		out = append(out, Sample{Type: m, Value: float64(rg.Min + int(fastrand.Uint32n(span)))})
	}
	return out, nil
}

// Performance metric names.
const (
	MetricFreeHeap    = "free_heap"
	MetricMinFreeHeap = "min_free_heap"
	MetricHeapInUse   = "heap_in_use"
	MetricGoroutines  = "goroutines"
)

// PerformanceReader reports Go runtime health as sensor samples.
// Free heap is the heap reserved from the OS but not in use.
type PerformanceReader struct {
	metrics []string

	mu      sync.Mutex
	minFree uint64
	seen    bool
	stats   func(*runtime.MemStats)
}

// NewPerformanceReader creates a reader for metrics, which must be
// performance metric names.
func NewPerformanceReader(metrics []string) (*PerformanceReader, error) {
	for _, m := range metrics {
		switch m {
		case MetricFreeHeap, MetricMinFreeHeap, MetricHeapInUse, MetricGoroutines:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
		}
	}
	return &PerformanceReader{metrics: metrics, stats: runtime.ReadMemStats}, nil
}

// Read implements SensorReader.
func (r *PerformanceReader) Read(ctx context.Context) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ms runtime.MemStats
	r.stats(&ms)
	free := ms.HeapSys - ms.HeapInuse

	r.mu.Lock()
	if !r.seen || free < r.minFree {
		r.minFree = free
		r.seen = true
	}
	minFree := r.minFree
	r.mu.Unlock()

	out := make([]Sample, 0, len(r.metrics))
	for _, m := range r.metrics {
		var v float64
		switch m {
		case MetricFreeHeap:
			v = float64(free)
		case MetricMinFreeHeap:
			v = float64(minFree)
		case MetricHeapInUse:
			v = float64(ms.HeapInuse)
		case MetricGoroutines:
			v = float64(runtime.NumGoroutine())
		}
		out = append(out, Sample{Type: m, Value: v})
	}
	return out, nil
}
