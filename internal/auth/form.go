package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// Form logs in through an HTML-style form post and extracts the resulting
// session cookie(s). Success is judged by SuccessIndicator, a substring
// expected in the response body (e.g. a welcome fragment or a JSON field).
type Form struct {
	LoginURL         string
	Fields           map[string]string
	SuccessIndicator string

	Retry RetryPolicy
}

func (f Form) Authenticate(ctx context.Context, doer Doer, store *session.Store, _ string) ([]*protocol.Outcome, error) {
	policy := f.Retry
	if policy.MaxRetries == 0 && policy.InitialDelay == 0 {
		policy = DefaultRetryPolicy()
	}

	form := url.Values{}
	for k, v := range f.Fields {
		form.Set(k, v)
	}
	body := form.Encode()

	var outcomes []*protocol.Outcome
	var state backoffState

	for {
		outcome, err := doer.Do(ctx, protocol.HTTPParams{
			URL:     f.LoginURL,
			Method:  "POST",
			Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
			Body:    []byte(body),
			Timeout: 10 * time.Second,
		}, time.Now().Add(10*time.Second))
		if outcome != nil {
			outcomes = append(outcomes, outcome)
		}

		if err == nil && outcome != nil && outcome.Success && f.succeeded(outcome) {
			f.extractSession(store, outcome)
			return outcomes, nil
		}

		if !policy.shouldRetry(state.attempts) {
			if err == nil {
				err = fmt.Errorf("auth: form login did not satisfy success indicator")
			}
			return outcomes, err
		}

		select {
		case <-ctx.Done():
			return outcomes, ctx.Err()
		case <-time.After(policy.delay(&state)):
		}
	}
}

func (f Form) succeeded(outcome *protocol.Outcome) bool {
	if f.SuccessIndicator == "" {
		return true
	}
	return strings.Contains(string(outcome.Body), f.SuccessIndicator)
}

func (f Form) extractSession(store *session.Store, outcome *protocol.Outcome) {
	for name, value := range parseSetCookies(outcome.Headers) {
		store.SetCookie(name, session.Cookie{Value: value})
	}

	var parsed map[string]any
	if json.Unmarshal(outcome.Body, &parsed) == nil {
		if tok, ok := parsed["token"].(string); ok {
			store.SetToken("bearer", session.Token{Value: tok})
		}
	}
}

func parseSetCookies(headers map[string]string) map[string]string {
	raw, ok := lookupHeader(headers, "Set-Cookie")
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ";", 2)[0]
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		out[strings.TrimSpace(kv[:eq])] = strings.TrimSpace(kv[eq+1:])
	}
	return out
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
