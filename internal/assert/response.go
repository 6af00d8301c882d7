package assert

import (
	"regexp"
	"strings"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// ResponseAssertion is evaluated inside a VU against one outcome.
type ResponseAssertion interface {
	Evaluate(o *protocol.Outcome) Result
}

// StatusIs asserts the outcome's HTTP-style status code.
type StatusIs struct{ Code int }

func (a StatusIs) Evaluate(o *protocol.Outcome) Result {
	if o.StatusCode == a.Code {
		return pass()
	}
	return fail("status_is(%d): got %d", a.Code, o.StatusCode)
}

// ResponseTimeUnder asserts the outcome completed within a latency budget.
type ResponseTimeUnder struct{ Ms float64 }

func (a ResponseTimeUnder) Evaluate(o *protocol.Outcome) Result {
	ms := o.ResponseTimeMs()
	if ms < a.Ms {
		return pass()
	}
	return fail("response_time_under(%.1fms): got %.1fms, exceeds limit %.1fms", a.Ms, ms, a.Ms)
}

// BodyContains asserts the response body contains a substring.
type BodyContains struct {
	Text          string
	CaseSensitive bool
}

func (a BodyContains) Evaluate(o *protocol.Outcome) Result {
	body, needle := string(o.Body), a.Text
	if !a.CaseSensitive {
		body, needle = strings.ToLower(body), strings.ToLower(needle)
	}
	if strings.Contains(body, needle) {
		return pass()
	}
	return fail("body_contains(%q): not found in body", a.Text)
}

// BodyMatches asserts the response body matches a regular expression.
type BodyMatches struct{ Pattern string }

func (a BodyMatches) Evaluate(o *protocol.Outcome) Result {
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return fail("body_matches(%q): invalid pattern: %v", a.Pattern, err)
	}
	if re.Match(o.Body) {
		return pass()
	}
	return fail("body_matches(%q): no match in body", a.Pattern)
}

// JSONPath asserts a json_path either exists, or exists and equals Expected.
// Exists nil requires the path to be present (and equal to Expected when
// set); Exists false passes only when the path is absent.
type JSONPath struct {
	Path     string
	Expected any
	Exists   *bool
}

func (a JSONPath) Evaluate(o *protocol.Outcome) Result {
	value, ok, err := session.LookupJSONPath(o.Body, a.Path)
	if err != nil {
		return fail("json_path(%q): %v", a.Path, err)
	}

	if a.Exists != nil {
		if ok != *a.Exists {
			return fail("json_path(%q): exists=%v, want %v", a.Path, ok, *a.Exists)
		}
		if !*a.Exists {
			return pass()
		}
	}

	if a.Expected == nil {
		if !ok {
			return fail("json_path(%q): not found", a.Path)
		}
		return pass()
	}

	if !ok {
		return fail("json_path(%q): not found, expected %v", a.Path, a.Expected)
	}
	if value != a.Expected {
		return fail("json_path(%q): got %v, want %v", a.Path, value, a.Expected)
	}
	return pass()
}

// HeaderExists asserts a response header is present, optionally with a
// specific value.
type HeaderExists struct {
	Name  string
	Value *string
}

func (a HeaderExists) Evaluate(o *protocol.Outcome) Result {
	for k, v := range o.Headers {
		if !strings.EqualFold(k, a.Name) {
			continue
		}
		if a.Value != nil && v != *a.Value {
			return fail("header_exists(%q): got %q, want %q", a.Name, v, *a.Value)
		}
		return pass()
	}
	return fail("header_exists(%q): header not present", a.Name)
}

// CustomResponse delegates to an arbitrary function, the escape hatch for
// checks the built-in rules can't express.
type CustomResponse struct {
	Fn func(o *protocol.Outcome) Result
}

func (a CustomResponse) Evaluate(o *protocol.Outcome) Result {
	return a.Fn(o)
}

// ResponseGroup composes response assertions under AND/OR logic.
// AND short-circuits on the first failure. OR is sticky: it keeps
// evaluating every rule so the failure messages of rules that didn't win
// are still visible, even though the group as a whole passes.
type ResponseGroup struct {
	Logic Logic
	Rules []ResponseAssertion
}

func (g ResponseGroup) Evaluate(o *protocol.Outcome) Result {
	var failures []string
	passed := false

	for _, rule := range g.Rules {
		r := rule.Evaluate(o)
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
