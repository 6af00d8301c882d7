package loadspiker

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startEchoServer(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start echo server: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestExecuteRequestRecordsOutcomeAndMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	outcome, err := e.ExecuteRequest(context.Background(), srv.URL, "GET", nil, nil, 1000)
	if err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	if !outcome.Success || outcome.StatusCode != 200 || outcome.Body != "ok" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.ResponseTimeUs <= 0 {
		t.Fatalf("expected positive response_time_us, got %d", outcome.ResponseTimeUs)
	}

	snap := e.GetMetrics()
	if snap.TotalRequests != 1 || snap.SuccessfulRequests != 1 || snap.FailedRequests != 0 {
		t.Fatalf("unexpected metrics after one success: %+v", snap)
	}
}

func TestExecuteRequestRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	outcome, err := e.ExecuteRequest(context.Background(), srv.URL, "GET", nil, nil, 1000)
	if err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	if outcome.Success {
		t.Fatalf("expected a 500 response to be unsuccessful")
	}

	snap := e.GetMetrics()
	if snap.TotalRequests != 1 || snap.FailedRequests != 1 {
		t.Fatalf("unexpected metrics after one failure: %+v", snap)
	}
}

func TestResetMetricsZeroesCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.ExecuteRequest(context.Background(), srv.URL, "GET", nil, nil, 1000); err != nil {
		t.Fatal(err)
	}
	e.ResetMetrics()

	snap := e.GetMetrics()
	if snap.TotalRequests != 0 || snap.SuccessfulRequests != 0 || snap.FailedRequests != 0 {
		t.Fatalf("expected all counters zero after reset, got %+v", snap)
	}
	if snap.SuccessRate != 100 || snap.ErrorRate != 0 {
		t.Fatalf("expected zero-request boundary rates after reset, got %+v", snap)
	}
}

func TestRunScenarioDrivesMultipleUsersAgainstSharedMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	scn := &Scenario{
		Name: "smoke",
		Operations: []Operation{
			{Kind: KindHTTPRequest, HTTP: &HTTPOp{URL: srv.URL, Method: "GET"}},
		},
	}

	snap, err := e.RunScenario(context.Background(), scn, 3, 150*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("RunScenario: %v", err)
	}
	if snap.TotalRequests == 0 {
		t.Fatal("expected at least one request across the run")
	}
	if snap.TotalRequests != snap.SuccessfulRequests {
		t.Fatalf("expected every request to succeed, got %+v", snap)
	}
	if snap.SuccessRate != 100 {
		t.Fatalf("expected 100%% success rate, got %+v", snap)
	}
}

func TestRunCustomInvokesEveryUserConcurrently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	snap, err := e.RunCustom(context.Background(), func(ctx context.Context, eng *Engine, userID int) error {
		_, err := eng.ExecuteRequest(ctx, srv.URL, "GET", nil, nil, 1000)
		return err
	}, 4, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("RunCustom: %v", err)
	}
	if snap.TotalRequests == 0 {
		t.Fatal("expected RunCustom's user functions to have issued at least one request")
	}
}

func TestRunScenarioAppliesAuthFlowHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	scn := &Scenario{
		Name: "authed",
		Auth: []AuthFlow{BasicAuth{Username: "alice", Password: "secret"}},
		Operations: []Operation{
			{Kind: KindHTTPRequest, HTTP: &HTTPOp{URL: srv.URL, Method: "GET"}},
		},
	}

	snap, err := e.RunScenario(context.Background(), scn, 1, 100*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("RunScenario: %v", err)
	}
	if snap.TotalRequests == 0 {
		t.Fatal("expected at least one request across the run")
	}
	if gotAuth == "" {
		t.Fatal("expected the Basic auth flow's Authorization header to reach the server")
	}
}

func TestRunScenarioFailsAggregateAssertionGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	scn := &Scenario{
		Name: "gated",
		Operations: []Operation{
			{Kind: KindHTTPRequest, HTTP: &HTTPOp{URL: srv.URL, Method: "GET"}},
		},
		AggregateAssertions: []AggregateAssertion{
			TotalRequestsAtLeast{N: 1_000_000},
		},
	}

	snap, err := e.RunScenario(context.Background(), scn, 2, 100*time.Millisecond, 0)
	if err == nil {
		t.Fatal("expected an unmet aggregate assertion to fail the run")
	}
	var evalErr *AssertionEvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected an *AssertionEvaluationError, got %T: %v", err, err)
	}
	if snap.TotalRequests == 0 {
		t.Fatal("expected the metrics snapshot to still be returned alongside the gate failure")
	}
}

func TestRunScenarioEmitsStageTransitionEventsWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var events bytes.Buffer
	cfg := DefaultConfig()
	cfg.EventLog = &events

	e, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer e.Close()

	scn := &Scenario{
		Name: "events",
		Operations: []Operation{
			{Kind: KindHTTPRequest, HTTP: &HTTPOp{URL: srv.URL, Method: "GET"}},
		},
	}

	if _, err := e.RunScenario(context.Background(), scn, 1, 50*time.Millisecond, 0); err != nil {
		t.Fatalf("RunScenario: %v", err)
	}

	if !strings.Contains(events.String(), "stage_transition") {
		t.Fatalf("expected a stage_transition event in the log, got: %s", events.String())
	}
}

func TestTCPConvenienceMethodsRoundTripAndDisconnectErrors(t *testing.T) {
	host, port := startEchoServer(t)

	e, err := New(10, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx := context.Background()

	if o, err := e.TCPConnect(ctx, host, port, 1000); err != nil || !o.Success {
		t.Fatalf("TCPConnect: outcome=%+v err=%v", o, err)
	}
	if o, err := e.TCPSend(ctx, host, port, []byte("ping"), 1000); err != nil || !o.Success {
		t.Fatalf("TCPSend: outcome=%+v err=%v", o, err)
	}
	o, err := e.TCPReceive(ctx, host, port, 1000)
	if err != nil || !o.Success || o.Body != "ping" {
		t.Fatalf("TCPReceive: outcome=%+v err=%v", o, err)
	}
	if o, err := e.TCPDisconnect(ctx, host, port, 1000); err != nil || !o.Success {
		t.Fatalf("TCPDisconnect: outcome=%+v err=%v", o, err)
	}

	o, err = e.TCPSend(ctx, host, port, []byte("ping"), 1000)
	if err != nil {
		t.Fatalf("TCPSend after disconnect: %v", err)
	}
	if o.Success || o.ErrorMessage != ErrNoConnection {
		t.Fatalf("expected no_connection after disconnect, got %+v", o)
	}
}
