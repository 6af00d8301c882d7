// Package assert implements the two assertion evaluator families: one
// scored per response inside a VU, the other scored once against a final
// MetricsSnapshot. The families share nothing but the Result shape and the
// AND/OR group composition below.
package assert

import "fmt"

// Logic selects how a Group combines its rules.
type Logic string

const (
	AND Logic = "and"
	OR  Logic = "or"
)

// Result is the uniform outcome of evaluating one rule: whether it passed,
// and a rule-specific message, set on failure (an OR group that passes
// also carries the messages of its failed rules).
type Result struct {
	Pass    bool
	Message string
}

func fail(format string, args ...any) Result {
	return Result{Pass: false, Message: fmt.Sprintf(format, args...)}
}

func pass() Result {
	return Result{Pass: true}
}
