// Package metrics implements the engine's hot-path metrics aggregator: a
// small set of atomic counters fed once per completed operation and read
// back as an immutable snapshot.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/otel"
)

// counters is the mutable state swapped atomically on Reset so that
// concurrent Record calls never observe a torn reset.
type counters struct {
	total       atomic.Int64
	successful  atomic.Int64
	failed      atomic.Int64
	totalTimeUs atomic.Int64
	minTimeUs   atomic.Uint64
	maxTimeUs   atomic.Uint64
	startedAt   time.Time
}

func newCounters() *counters {
	c := &counters{startedAt: time.Now()}
	// minTimeUs starts at max-uint64 so the first recorded sample always wins
	// the compare-and-swap below.
	c.minTimeUs.Store(^uint64(0))
	return c
}

// Aggregator is the per-engine metrics sink. It is safe for concurrent use
// by any number of VU goroutines.
type Aggregator struct {
	c *atomic.Pointer[counters]

	// otelMetrics mirrors each recorded operation's latency, and each
	// failure, into OpenTelemetry instruments.
	// May be nil (or a no-op instance) when observability export is disabled.
	otelMetrics *otel.Metrics
}

// NewAggregator creates an Aggregator. otelMetrics may be nil to disable
// instrument mirroring entirely (equivalent to otel.NoopMetrics()).
func NewAggregator(otelMetrics *otel.Metrics) *Aggregator {
	p := &atomic.Pointer[counters]{}
	p.Store(newCounters())
	return &Aggregator{c: p, otelMetrics: otelMetrics}
}

// Record folds one completed operation's outcome into the counters.
// durationUs is the operation's wall-clock duration in microseconds, the
// canonical storage unit for response times.
//
// successful/failed are incremented before total, so at any instant
// total <= successful+failed, never the reverse, and
// total == successful + failed once every in-flight Record has completed.
func (a *Aggregator) Record(ctx context.Context, protocol, target string, durationUs int64, ok bool) {
	c := a.c.Load()

	if ok {
		c.successful.Add(1)
	} else {
		c.failed.Add(1)
	}
	c.total.Add(1)
	c.totalTimeUs.Add(durationUs)

	// The min side ignores zero values while total was 0 by always racing
	// the first sample in unconditionally via the sentinel start value.
	updateMin(&c.minTimeUs, uint64(durationUs))
	updateMax(&c.maxTimeUs, uint64(durationUs))

	if a.otelMetrics != nil {
		a.otelMetrics.RecordOperationLatency(ctx, protocol, target, float64(durationUs)/1000.0, ok)
		if !ok {
			a.otelMetrics.RecordError(ctx, protocol)
		}
	}
}

// updateMin performs a compare-and-swap loop to keep the running minimum
// correct under concurrent writers.
func updateMin(slot *atomic.Uint64, v uint64) {
	for {
		cur := slot.Load()
		if v >= cur {
			return
		}
		if slot.CompareAndSwap(cur, v) {
			return
		}
	}
}

func updateMax(slot *atomic.Uint64, v uint64) {
	for {
		cur := slot.Load()
		if v <= cur {
			return
		}
		if slot.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Snapshot is an immutable point-in-time read of the aggregator's counters
// plus derived statistics, mirroring the wire-stable MetricsSnapshot record.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64

	// *ResponseTimeUs fields are in microseconds, the canonical storage unit.
	TotalResponseTimeUs int64
	MinResponseTimeUs   int64
	MaxResponseTimeUs   int64

	StartedAt   time.Time
	WindowStart time.Time

	// Derived fields.
	RequestsPerSecond float64
	AvgResponseTimeMs float64
	MinResponseTimeMs float64
	MaxResponseTimeMs float64
	ErrorRate         float64
	SuccessRate       float64
}

// Snapshot reads the current counters without blocking writers. Each field
// is read independently, so two fields may be a few nanoseconds apart under
// heavy concurrent writes, but the derived rates below are computed from
// exactly the values read here and so are internally consistent with this
// Snapshot's own TotalRequests field.
func (a *Aggregator) Snapshot() Snapshot {
	c := a.c.Load()

	total := c.total.Load()
	successful := c.successful.Load()
	failed := c.failed.Load()
	totalTimeUs := c.totalTimeUs.Load()
	now := time.Now()

	s := Snapshot{
		TotalRequests:       total,
		SuccessfulRequests:  successful,
		FailedRequests:      failed,
		TotalResponseTimeUs: totalTimeUs,
		StartedAt:           c.startedAt,
		WindowStart:         c.startedAt,
	}

	if total == 0 {
		// Zero-request edge case: rates default to the "nothing went
		// wrong" reading rather than NaN or divide-by-zero.
		s.SuccessRate = 100
		s.ErrorRate = 0
		return s
	}

	s.SuccessRate = float64(successful) / float64(total) * 100
	s.ErrorRate = float64(failed) / float64(total) * 100
	s.AvgResponseTimeMs = float64(totalTimeUs) / float64(total) / 1000.0

	minUs := c.minTimeUs.Load()
	if minUs == ^uint64(0) {
		minUs = 0
	}
	s.MinResponseTimeUs = int64(minUs)
	s.MaxResponseTimeUs = int64(c.maxTimeUs.Load())
	s.MinResponseTimeMs = float64(s.MinResponseTimeUs) / 1000.0
	s.MaxResponseTimeMs = float64(s.MaxResponseTimeUs) / 1000.0

	elapsed := now.Sub(c.startedAt).Seconds()
	if elapsed > 0 {
		s.RequestsPerSecond = float64(total) / elapsed
	}

	return s
}

// Reset atomically swaps in a fresh zero-value counters block. In-flight
// Record calls that already loaded the old block finish updating it
// harmlessly; every call after Reset returns observes only the new block.
func (a *Aggregator) Reset() {
	a.c.Store(newCounters())
}
