package session

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
)

// RuleKind names an extraction rule's source field.
type RuleKind string

const (
	RuleJSONPath     RuleKind = "json_path"
	RuleRegex        RuleKind = "regex"
	RuleHeader       RuleKind = "header"
	RuleCookie       RuleKind = "cookie"
	RuleStatusCode   RuleKind = "status_code"
	RuleResponseTime RuleKind = "response_time"
)

// ExtractionRule names where a value comes from and which session variable
// it is written to.
type ExtractionRule struct {
	Kind RuleKind
	// Target is the variable name to set in the session.
	Target string
	// Path is a dot/[index] path for json_path rules.
	Path string
	// Pattern and Group are used by regex rules; Group defaults to 1.
	Pattern string
	Group   int
	// HeaderName is used by header rules (case-insensitive lookup).
	HeaderName string
	// CookieName is used by cookie rules.
	CookieName string
}

// ApplyResponseCookies parses every Set-Cookie entry in an HTTP outcome's
// headers and stores each one, independent of any explicit extraction
// rule — cookie propagation across a VU's requests is automatic, the way a
// browser's cookie jar works, not something a scenario has to ask for.
func ApplyResponseCookies(store *Store, headers map[string]string) {
	raw, ok := extractHeaderRaw(headers, "Set-Cookie")
	if !ok {
		return
	}
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ";", 2)[0]
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(kv[:eq])
		value := strings.TrimSpace(kv[eq+1:])
		if name == "" {
			continue
		}
		store.SetCookie(name, Cookie{Value: value})
	}
}

// Extract applies each rule against an outcome, writing results into the
// store. Extraction failures are logged and otherwise ignored — they never
// fail the request that produced the outcome.
func Extract(store *Store, rules []ExtractionRule, outcome *protocol.Outcome) {
	for _, rule := range rules {
		value, ok, err := extractOne(rule, outcome)
		if err != nil {
			log.Printf("session: extraction rule %s for %q failed: %v", rule.Kind, rule.Target, err)
			continue
		}
		if !ok {
			continue
		}
		store.SetVariable(rule.Target, value)
	}
}

func extractOne(rule ExtractionRule, outcome *protocol.Outcome) (any, bool, error) {
	switch rule.Kind {
	case RuleJSONPath:
		return extractJSONPath(outcome.Body, rule.Path)
	case RuleRegex:
		return extractRegex(outcome.Body, rule.Pattern, rule.Group)
	case RuleHeader:
		return extractHeader(outcome.Headers, rule.HeaderName)
	case RuleCookie:
		return extractCookie(outcome.Headers, rule.CookieName)
	case RuleStatusCode:
		return outcome.StatusCode, true, nil
	case RuleResponseTime:
		return outcome.ResponseTimeMs(), true, nil
	default:
		return nil, false, fmt.Errorf("unknown extraction rule kind %q", rule.Kind)
	}
}

func extractHeader(headers map[string]string, name string) (any, bool, error) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// extractCookie parses a Set-Cookie header value for the named cookie.
func extractCookie(headers map[string]string, name string) (any, bool, error) {
	raw, ok := extractHeaderRaw(headers, "Set-Cookie")
	if !ok {
		return nil, false, nil
	}
	for _, part := range strings.Split(raw, ",") {
		for _, kv := range strings.Split(part, ";") {
			kv = strings.TrimSpace(kv)
			eq := strings.IndexByte(kv, '=')
			if eq < 0 {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(kv[:eq]), name) {
				return strings.TrimSpace(kv[eq+1:]), true, nil
			}
		}
	}
	return nil, false, nil
}

func extractHeaderRaw(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func extractRegex(body []byte, pattern string, group int) (any, bool, error) {
	if group <= 0 {
		group = 1
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false, err
	}
	m := re.FindSubmatch(body)
	if m == nil || group >= len(m) {
		return nil, false, nil
	}
	return string(m[group]), true, nil
}

type jsonPathToken struct {
	key     string
	index   int
	isIndex bool
}

// LookupJSONPath resolves path against a JSON body, reusing the same
// tokenizer as the json_path extraction rule. Exported for assertion
// evaluators that need the identical path semantics outside a Store.
func LookupJSONPath(body []byte, path string) (any, bool, error) {
	return extractJSONPath(body, path)
}

func extractJSONPath(body []byte, path string) (any, bool, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false, err
	}

	tokens, err := parseJSONPath(path)
	if err != nil {
		return nil, false, err
	}

	current := decoded
	for _, tok := range tokens {
		if tok.isIndex {
			items, ok := current.([]any)
			if !ok || tok.index < 0 || tok.index >= len(items) {
				return nil, false, nil
			}
			current = items[tok.index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		next, ok := obj[tok.key]
		if !ok {
			return nil, false, nil
		}
		current = next
	}

	return current, true, nil
}

func parseJSONPath(path string) ([]jsonPathToken, error) {
	trimmed := strings.TrimSpace(path)
	trimmed = strings.TrimPrefix(trimmed, "$.")
	trimmed = strings.TrimPrefix(trimmed, "$")
	if trimmed == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	var tokens []jsonPathToken
	for i := 0; i < len(trimmed); {
		switch trimmed[i] {
		case '.':
			i++
			if i >= len(trimmed) {
				return nil, fmt.Errorf("path cannot end with '.'")
			}
		case '[':
			end := strings.IndexByte(trimmed[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("missing closing ']' in path")
			}
			end += i
			inner := strings.TrimSpace(trimmed[i+1 : end])
			idx, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q in path", inner)
			}
			tokens = append(tokens, jsonPathToken{index: idx, isIndex: true})
			i = end + 1
		default:
			j := i
			for j < len(trimmed) && trimmed[j] != '.' && trimmed[j] != '[' {
				j++
			}
			tokens = append(tokens, jsonPathToken{key: trimmed[i:j]})
			i = j
		}
	}

	return tokens, nil
}
