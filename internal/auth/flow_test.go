package auth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

type scriptedDoer struct {
	outcomes []*protocol.Outcome
	errs     []error
	calls    int
}

func (d *scriptedDoer) Do(_ context.Context, _ protocol.HTTPParams, _ time.Time) (*protocol.Outcome, error) {
	i := d.calls
	d.calls++
	if i >= len(d.outcomes) {
		i = len(d.outcomes) - 1
	}
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	return d.outcomes[i], err
}

func newStoreForTest() *session.Store {
	m := session.NewManager()
	return m.Acquire("vu-1")
}

func TestBasicAuthSetsHeaderWithoutNetworkCall(t *testing.T) {
	store := newStoreForTest()
	doer := &scriptedDoer{}

	outcomes, err := Basic{Username: "alice", Password: "secret"}.Authenticate(context.Background(), doer, store, "vu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 0 || doer.calls != 0 {
		t.Fatalf("expected no network calls for basic auth")
	}

	headers := store.PrepareRequestHeaders(nil)
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	if headers["Authorization"] != want {
		t.Fatalf("expected %q, got %q", want, headers["Authorization"])
	}
}

func TestApiKeySetsConfiguredHeader(t *testing.T) {
	store := newStoreForTest()
	_, err := ApiKey{HeaderName: "X-API-Key", Value: "k123"}.Authenticate(context.Background(), &scriptedDoer{}, store, "vu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	headers := store.PrepareRequestHeaders(nil)
	if headers["X-API-Key"] != "k123" {
		t.Fatalf("expected X-API-Key header, got %+v", headers)
	}
}

func TestBearerDirectTokenSetsAuthorizationHeader(t *testing.T) {
	store := newStoreForTest()
	_, err := Bearer{Token: "abc123"}.Authenticate(context.Background(), &scriptedDoer{}, store, "vu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	headers := store.PrepareRequestHeaders(nil)
	if headers["Authorization"] != "Bearer abc123" {
		t.Fatalf("expected Bearer abc123, got %q", headers["Authorization"])
	}
}

func TestBearerOAuth2RefreshParsesTokenResponse(t *testing.T) {
	store := newStoreForTest()
	doer := &scriptedDoer{
		outcomes: []*protocol.Outcome{
			{Success: true, StatusCode: 200, Body: []byte(`{"access_token":"tok1","expires_in":60}`)},
		},
	}

	b := Bearer{TokenURL: "https://auth.example/token", ClientID: "cid", ClientSecret: "secret", RefreshToken: "rtok"}
	outcomes, err := b.Authenticate(context.Background(), doer, store, "vu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected exactly one side-effect outcome, got %d", len(outcomes))
	}
	headers := store.PrepareRequestHeaders(nil)
	if headers["Authorization"] != "Bearer tok1" {
		t.Fatalf("expected Bearer tok1, got %q", headers["Authorization"])
	}
}

func TestBearerOAuth2RetriesThenSucceeds(t *testing.T) {
	store := newStoreForTest()
	doer := &scriptedDoer{
		outcomes: []*protocol.Outcome{
			{Success: false, StatusCode: 500},
			{Success: true, StatusCode: 200, Body: []byte(`{"access_token":"tok2"}`)},
		},
	}

	b := Bearer{
		TokenURL: "https://auth.example/token",
		Retry:    RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	}
	_, err := b.Authenticate(context.Background(), doer, store, "vu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doer.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", doer.calls)
	}
}

func TestFormLoginExtractsCookieAndToken(t *testing.T) {
	store := newStoreForTest()
	doer := &scriptedDoer{
		outcomes: []*protocol.Outcome{
			{
				Success:    true,
				StatusCode: 200,
				Body:       []byte(`{"token":"TTT","status":"welcome"}`),
				Headers:    map[string]string{"Set-Cookie": "sid=XYZ; Path=/"},
			},
		},
	}

	f := Form{LoginURL: "https://app.example/login", Fields: map[string]string{"u": "a", "p": "b"}, SuccessIndicator: "welcome"}
	_, err := f.Authenticate(context.Background(), doer, store, "vu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	headers := store.PrepareRequestHeaders(nil)
	if headers["Cookie"] != "sid=XYZ" {
		t.Fatalf("expected session cookie, got %q", headers["Cookie"])
	}
	if headers["Authorization"] != "Bearer TTT" {
		t.Fatalf("expected extracted bearer token, got %q", headers["Authorization"])
	}
}

func TestFormLoginFailsWhenSuccessIndicatorMissing(t *testing.T) {
	store := newStoreForTest()
	doer := &scriptedDoer{
		outcomes: []*protocol.Outcome{
			{Success: true, StatusCode: 200, Body: []byte(`{"status":"invalid credentials"}`)},
		},
	}

	f := Form{
		LoginURL:         "https://app.example/login",
		SuccessIndicator: "welcome",
		Retry:            RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
	_, err := f.Authenticate(context.Background(), doer, store, "vu-1")
	if err == nil {
		t.Fatalf("expected an error when success indicator never matches")
	}
}

func TestCustomFlowDelegatesToFunction(t *testing.T) {
	store := newStoreForTest()
	called := false
	c := Custom{Fn: func(ctx context.Context, doer Doer, store *session.Store, userID string) ([]*protocol.Outcome, error) {
		called = true
		store.SetVariable("custom_ran_for", userID)
		return nil, nil
	}}

	_, err := c.Authenticate(context.Background(), &scriptedDoer{}, store, "vu-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected custom function to run")
	}
	if v, _ := store.Variable("custom_ran_for"); v != "vu-7" {
		t.Fatalf("expected custom variable to be set, got %v", v)
	}
}
