package assert

import (
	"strings"
	"testing"

	"github.com/ecamuto/LoadSpiker/internal/metrics"
)

func TestSuccessRateAtLeastZeroRequestsPasses(t *testing.T) {
	agg := metrics.NewAggregator(nil)
	s := agg.Snapshot()
	if r := (SuccessRateAtLeast{Pct: 99}).Evaluate(s); !r.Pass {
		t.Fatalf("expected zero-request success_rate_at_least to pass, got %q", r.Message)
	}
}

func TestTotalRequestsAtLeastZeroRequestsFails(t *testing.T) {
	agg := metrics.NewAggregator(nil)
	s := agg.Snapshot()
	r := (TotalRequestsAtLeast{N: 1}).Evaluate(s)
	if r.Pass {
		t.Fatalf("expected total_requests_at_least(1) to fail with zero requests")
	}
}

func TestAvgResponseTimeUnderFailureMessage(t *testing.T) {
	agg := metrics.NewAggregator(nil)
	agg.Record(nil, "http", "example", 2_000_000, true)
	s := agg.Snapshot()

	r := (AvgResponseTimeUnder{Ms: 500}).Evaluate(s)
	if r.Pass {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(r.Message, "exceeds limit 500.0ms") {
		t.Fatalf("expected limit-exceeded message, got %q", r.Message)
	}
}

func TestErrorRateBelow(t *testing.T) {
	agg := metrics.NewAggregator(nil)
	agg.Record(nil, "http", "example", 1000, true)
	agg.Record(nil, "http", "example", 1000, false)
	s := agg.Snapshot()

	if r := (ErrorRateBelow{Pct: 60}).Evaluate(s); !r.Pass {
		t.Fatalf("expected 50%% error rate to pass error_rate_below(60), got %q", r.Message)
	}
	if r := (ErrorRateBelow{Pct: 40}).Evaluate(s); r.Pass {
		t.Fatalf("expected 50%% error rate to fail error_rate_below(40)")
	}
}

func TestAggregateGroupANDShortCircuits(t *testing.T) {
	calls := 0
	agg := metrics.NewAggregator(nil)
	s := agg.Snapshot()

	g := AggregateGroup{Logic: AND, Rules: []AggregateAssertion{
		TotalRequestsAtLeast{N: 1},
		CustomAggregate{Fn: func(s metrics.Snapshot) Result { calls++; return pass() }},
	}}
	r := g.Evaluate(s)
	if r.Pass {
		t.Fatalf("expected AND group to fail")
	}
	if calls != 0 {
		t.Fatalf("expected short-circuit, got %d calls", calls)
	}
}
