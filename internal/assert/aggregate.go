package assert

import (
	"fmt"
	"strings"

	"github.com/ecamuto/LoadSpiker/internal/metrics"
)

// AggregateAssertion is evaluated once, after a run, against a final
// metrics.Snapshot.
type AggregateAssertion interface {
	Evaluate(s metrics.Snapshot) Result
}

// ThroughputAtLeast asserts a minimum requests-per-second.
type ThroughputAtLeast struct{ RPS float64 }

func (a ThroughputAtLeast) Evaluate(s metrics.Snapshot) Result {
	if s.RequestsPerSecond >= a.RPS {
		return pass()
	}
	return fail("throughput_at_least(%.1f): got %.1f req/s", a.RPS, s.RequestsPerSecond)
}

// AvgResponseTimeUnder asserts the run's mean latency stayed under a limit.
type AvgResponseTimeUnder struct{ Ms float64 }

func (a AvgResponseTimeUnder) Evaluate(s metrics.Snapshot) Result {
	if s.AvgResponseTimeMs < a.Ms {
		return pass()
	}
	return fail("avg_response_time_under(%.1fms): got %.1fms, exceeds limit %.1fms", a.Ms, s.AvgResponseTimeMs, a.Ms)
}

// ErrorRateBelow asserts the run's error percentage stayed under a limit.
type ErrorRateBelow struct{ Pct float64 }

func (a ErrorRateBelow) Evaluate(s metrics.Snapshot) Result {
	if s.ErrorRate < a.Pct {
		return pass()
	}
	return fail("error_rate_below(%.1f%%): got %.1f%%", a.Pct, s.ErrorRate)
}

// SuccessRateAtLeast asserts the run's success percentage met a floor.
// With zero requests, Snapshot already reads 100, so this passes.
type SuccessRateAtLeast struct{ Pct float64 }

func (a SuccessRateAtLeast) Evaluate(s metrics.Snapshot) Result {
	if s.SuccessRate >= a.Pct {
		return pass()
	}
	return fail("success_rate_at_least(%.1f%%): got %.1f%%", a.Pct, s.SuccessRate)
}

// MaxResponseTimeUnder asserts no single outcome exceeded a latency limit.
type MaxResponseTimeUnder struct{ Ms float64 }

func (a MaxResponseTimeUnder) Evaluate(s metrics.Snapshot) Result {
	if s.MaxResponseTimeMs < a.Ms {
		return pass()
	}
	return fail("max_response_time_under(%.1fms): got %.1fms", a.Ms, s.MaxResponseTimeMs)
}

// TotalRequestsAtLeast asserts a minimum request volume. With zero
// requests this fails whenever N > 0, per the boundary policy.
type TotalRequestsAtLeast struct{ N int64 }

func (a TotalRequestsAtLeast) Evaluate(s metrics.Snapshot) Result {
	if s.TotalRequests >= a.N {
		return pass()
	}
	return fail("total_requests_at_least(%d): got %d", a.N, s.TotalRequests)
}

// CustomAggregate delegates to an arbitrary function.
type CustomAggregate struct {
	Fn func(s metrics.Snapshot) Result
}

func (a CustomAggregate) Evaluate(s metrics.Snapshot) Result {
	return a.Fn(s)
}

// AggregateGroup composes aggregate assertions under AND/OR logic, with the
// same short-circuit-AND / sticky-OR semantics as ResponseGroup.
type AggregateGroup struct {
	Logic Logic
	Rules []AggregateAssertion
}

func (g AggregateGroup) Evaluate(s metrics.Snapshot) Result {
	var failures []string
	passed := false

	for _, rule := range g.Rules {
		r := rule.Evaluate(s)
		if r.Pass {
			passed = true
			continue
		}

		failures = append(failures, r.Message)
		if g.Logic == AND {
			return fail("%s", strings.Join(failures, "; "))
		}
	}

	if g.Logic == OR && len(g.Rules) > 0 {
		if passed {
			return Result{Pass: true, Message: strings.Join(failures, "; ")}
		}
		return fail("%s", strings.Join(failures, "; "))
	}
	return pass()
}

// EvaluationError reports that one or more aggregate assertions failed
// against a run's final metrics. Failures holds every failing Evaluate
// call's message, in evaluation order.
type EvaluationError struct {
	Op       string
	Failures []string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("assert: %s: %d assertion(s) failed: %s", e.Op, len(e.Failures), strings.Join(e.Failures, "; "))
}

// EvaluateAll evaluates every rule against s and returns an
// *EvaluationError collecting every failure, or nil if every rule passed
// (including the vacuous case of no rules).
func EvaluateAll(op string, rules []AggregateAssertion, s metrics.Snapshot) error {
	var failures []string
	for _, rule := range rules {
		if r := rule.Evaluate(s); !r.Pass {
			failures = append(failures, r.Message)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &EvaluationError{Op: op, Failures: failures}
}
