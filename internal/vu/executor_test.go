package vu

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/datasource"
	"github.com/ecamuto/LoadSpiker/internal/events"
	"github.com/ecamuto/LoadSpiker/internal/metrics"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
	"github.com/ecamuto/LoadSpiker/internal/scenario"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// orderingDriver appends op.HTTP.URL to a shared slice each time it is
// invoked, so a test can assert on dispatch order.
type orderingDriver struct {
	mu    sync.Mutex
	seen  []string
	delay time.Duration
}

func (d *orderingDriver) Execute(ctx context.Context, reg *registry.Registry, op protocol.Operation, deadline time.Time) (*protocol.Outcome, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.seen = append(d.seen, op.HTTP.URL)
	d.mu.Unlock()
	return &protocol.Outcome{Success: true, StatusCode: 200, ResponseTimeUs: 1000}, nil
}

func (d *orderingDriver) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.seen))
	copy(out, d.seen)
	return out
}

func newTestConfig(tmpl *scenario.Template, driver protocol.Driver) *VUConfig {
	return &VUConfig{
		RunID:          "test-run",
		DefaultTimeout: time.Second,
		Template:       tmpl,
		Sources:        datasource.NewManager(),
		Sessions:       session.NewManager(),
		Drivers:        protocol.Drivers{HTTP: driver},
		Aggregator:     metrics.NewAggregator(nil),
		Events:         events.NoopEventLogger(),
	}
}

func TestExecutorRunsOperationsInStrictOrder(t *testing.T) {
	driver := &orderingDriver{}
	tmpl := &scenario.Template{
		Operations: []scenario.OperationTemplate{
			{Kind: protocol.KindHTTPRequest, HTTP: &scenario.HTTPTemplate{URL: "https://a", Method: "GET"}},
			{Kind: protocol.KindHTTPRequest, HTTP: &scenario.HTTPTemplate{URL: "https://b", Method: "GET"}},
			{Kind: protocol.KindHTTPRequest, HTTP: &scenario.HTTPTemplate{URL: "https://c", Method: "GET"}},
		},
	}

	cfg := newTestConfig(tmpl, driver)
	v := NewVUInstance("vu-1", 0, 1)
	m := NewVUMetrics()
	executor := NewVUExecutor(v, cfg, nil, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	executor.Run(ctx)

	seen := driver.snapshot()
	if len(seen) < 3 {
		t.Fatalf("expected at least one full iteration, got %d calls: %v", len(seen), seen)
	}
	for i := 0; i+2 < len(seen); i += 3 {
		if seen[i] != "https://a" || seen[i+1] != "https://b" || seen[i+2] != "https://c" {
			t.Fatalf("operations out of order at iteration starting %d: %v", i, seen)
		}
	}
}

func TestExecutorStopEndsRunPromptly(t *testing.T) {
	driver := &orderingDriver{delay: 5 * time.Millisecond}
	tmpl := &scenario.Template{
		Operations: []scenario.OperationTemplate{
			{Kind: protocol.KindHTTPRequest, HTTP: &scenario.HTTPTemplate{URL: "https://a", Method: "GET"}},
		},
	}
	cfg := newTestConfig(tmpl, driver)
	v := NewVUInstance("vu-1", 0, 1)
	m := NewVUMetrics()
	executor := NewVUExecutor(v, cfg, nil, m, nil)

	done := make(chan struct{})
	go func() {
		executor.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	executor.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after Stop()")
	}
}

func TestExecutorRecordsSuccessfulOperations(t *testing.T) {
	driver := &orderingDriver{}
	tmpl := &scenario.Template{
		Operations: []scenario.OperationTemplate{
			{
				Kind: protocol.KindHTTPRequest,
				HTTP: &scenario.HTTPTemplate{URL: "https://a", Method: "GET"},
			},
		},
	}
	cfg := newTestConfig(tmpl, driver)
	v := NewVUInstance("vu-1", 0, 1)
	m := NewVUMetrics()
	executor := NewVUExecutor(v, cfg, nil, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	executor.Run(ctx)

	if m.TotalOperations.Load() == 0 {
		t.Fatal("expected at least one recorded operation")
	}
	if m.SuccessfulOperations.Load() != m.TotalOperations.Load() {
		t.Fatalf("expected all operations to succeed, got %d/%d", m.SuccessfulOperations.Load(), m.TotalOperations.Load())
	}
}
