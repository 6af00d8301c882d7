package loadspiker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/assert"
	"github.com/ecamuto/LoadSpiker/internal/datasource"
	"github.com/ecamuto/LoadSpiker/internal/events"
	"github.com/ecamuto/LoadSpiker/internal/metrics"
	"github.com/ecamuto/LoadSpiker/internal/otel"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/protocol/dbdriver"
	"github.com/ecamuto/LoadSpiker/internal/protocol/httpdriver"
	"github.com/ecamuto/LoadSpiker/internal/protocol/mqttdriver"
	"github.com/ecamuto/LoadSpiker/internal/protocol/tcpdriver"
	"github.com/ecamuto/LoadSpiker/internal/protocol/udpdriver"
	"github.com/ecamuto/LoadSpiker/internal/protocol/wsdriver"
	"github.com/ecamuto/LoadSpiker/internal/registry"
	"github.com/ecamuto/LoadSpiker/internal/session"
	"github.com/ecamuto/LoadSpiker/internal/vu"
)

// Config controls resource limits and observability for a new Engine.
// MaxConnections is stored on the Engine (non-positive becomes 100); the
// HTTP transport does not read it and keeps a fixed idle pool of 100
// connections, 10 per host. WorkerThreads bounds how many run_custom users
// may run their function at the same time (zero means unbounded, left to
// Go's scheduler); the run_scenario worker pool does not read it, and every
// VU of a run_scenario call runs concurrently.
type Config struct {
	MaxConnections int
	WorkerThreads  int

	Tracer  *otel.Config
	Metrics *otel.MetricsConfig

	// EventLog, when non-nil, receives one structured JSON line per
	// lifecycle event (stage transitions, session create/destroy,
	// assertion-gate failures) for every run this Engine drives. Nil
	// disables event logging entirely.
	EventLog io.Writer
}

// DefaultConfig returns sane defaults: a modest connection pool, unbounded
// worker concurrency, and every observability exporter disabled.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 100,
		WorkerThreads:  0,
		Tracer:         otel.DefaultConfig(),
		Metrics:        otel.DefaultMetricsConfig(),
		EventLog:       nil,
	}
}

// Engine is the load-generation runtime's single entry point. It owns one
// set of protocol drivers, one metrics aggregator, and one data-source
// manager, shared across every execute_request call, run_scenario call,
// and run_custom call made against it — so get_metrics/reset_metrics
// report cumulative totals across all of them, the way a single running
// process's counters would.
type Engine struct {
	cfg Config

	drivers    protocol.Drivers
	aggregator *metrics.Aggregator
	tracer     *otel.Tracer
	sources    *datasource.Manager
	eventLog   io.Writer // nil disables event logging; see Config.EventLog

	// adHocReg backs the direct protocol convenience methods
	// (websocket_*, tcp_*, udp_*, mqtt_*, database_*) and execute_request:
	// a single, engine-scoped connection registry, not a per-VU one, since
	// these calls are made directly by the caller rather than from inside
	// a scenario iteration.
	adHocReg *registry.Registry

	runCounter atomic.Int64
	closed     atomic.Bool
}

// New builds an Engine: one driver per protocol, wired against a shared
// metrics aggregator and, if enabled, an OpenTelemetry tracer.
func New(maxConnections, workerThreads int) (*Engine, error) {
	cfg := DefaultConfig()
	cfg.MaxConnections = maxConnections
	cfg.WorkerThreads = workerThreads
	return NewWithConfig(cfg)
}

// NewWithConfig builds an Engine from an explicit Config, for callers that
// need to enable OpenTelemetry export or otherwise deviate from
// DefaultConfig.
func NewWithConfig(cfg Config) (*Engine, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}

	httpCfg := httpdriver.DefaultConfig()
	drivers := protocol.Drivers{
		HTTP: httpdriver.New(httpCfg),
		WS:   wsdriver.New(),
		TCP:  tcpdriver.New(),
		UDP:  udpdriver.New(),
		MQTT: mqttdriver.New(),
		DB:   dbdriver.New(),
	}

	tracerCfg := cfg.Tracer
	if tracerCfg == nil {
		tracerCfg = otel.DefaultConfig()
	}
	tracer, err := otel.NewTracer(context.Background(), tracerCfg)
	if err != nil {
		return nil, fmt.Errorf("loadspiker: building tracer: %w", err)
	}

	metricsCfg := cfg.Metrics
	if metricsCfg == nil {
		metricsCfg = otel.DefaultMetricsConfig()
	}
	otelMetrics, err := otel.NewMetrics(context.Background(), metricsCfg)
	if err != nil {
		return nil, fmt.Errorf("loadspiker: building otel metrics: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		drivers:    drivers,
		aggregator: metrics.NewAggregator(otelMetrics),
		tracer:     tracer,
		sources:    datasource.NewManager(),
		adHocReg:   registry.New(),
		eventLog:   cfg.EventLog,
	}, nil
}

// Close releases the ad-hoc connection registry's handles. An Engine used
// only for run_scenario/run_custom does not need to call this; it matters
// for callers that used the direct protocol convenience methods.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.adHocReg.CloseAll()
	return nil
}

// AddDataSource registers a table available to every Scenario this Engine
// runs, addressed by name in Scenario.Sources.
func (e *Engine) AddDataSource(src *DataSource) { e.sources.Add(src) }

// LoadCSV parses delimiter-separated data (header row required) into a
// named DataSource under the given distribution strategy. delimiter
// defaults to ',' when zero.
func LoadCSV(name string, r io.Reader, delimiter rune, strategy DataStrategy) (*DataSource, error) {
	return datasource.Load(name, r, delimiter, strategy)
}

// GetMetrics returns the engine-wide cumulative snapshot: every
// execute_request, run_scenario, run_custom, and protocol convenience call
// made against this Engine feeds the same counters.
func (e *Engine) GetMetrics() MetricsSnapshot { return newMetricsSnapshot(e.aggregator.Snapshot()) }

// ResetMetrics zeroes every counter atomically and restarts the
// requests-per-second window.
func (e *Engine) ResetMetrics() { e.aggregator.Reset() }

// ExecuteRequest issues one HTTP request directly, outside any scenario or
// VU, and folds its outcome into the engine's metrics.
func (e *Engine) ExecuteRequest(ctx context.Context, url, method string, headers map[string]string, body []byte, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindHTTPRequest, HTTP: &protocol.HTTPParams{
		URL: url, Method: method, Headers: headers, Body: body, Timeout: msDuration(timeoutMs),
	}}
	return e.dispatch(ctx, "http", url, op, timeoutMs)
}

// dispatch routes op through the engine's ad-hoc registry, records the
// outcome into the aggregator on a successful dispatch, and returns the
// wire-stable Outcome.
func (e *Engine) dispatch(ctx context.Context, protoName, target string, op protocol.Operation, timeoutMs int) (*Outcome, error) {
	deadline := time.Now().Add(msDuration(timeoutMs))
	outcome, err := e.drivers.Dispatch(ctx, e.adHocReg, op, deadline)
	if err != nil {
		return newOutcome(outcome), err
	}
	e.aggregator.Record(ctx, protoName, target, outcome.ResponseTimeUs, outcome.Success)
	return newOutcome(outcome), nil
}

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 30 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// RunScenario drives users virtual users through scenario for duration,
// ramping linearly from 1 active VU to users over rampUp (when rampUp is
// positive and shorter than duration). It returns the engine-wide metrics
// snapshot once the run has fully drained.
func (e *Engine) RunScenario(ctx context.Context, scn *Scenario, users int, duration, rampUp time.Duration) (MetricsSnapshot, error) {
	plan := vu.PlanFromUsersDuration(users, duration, rampUp)
	return e.RunPlan(ctx, scn, plan, duration)
}

// RunPlan is the lower-level sibling of RunScenario: it drives an explicit
// vu.Plan (a sequence of ramp/hold/churn stages) instead of synthesizing one
// from a flat users/rampUp pair, for callers that need the full load-pattern
// grammar (e.g. a spike pattern's pre-spike hold, spike, post-spike hold).
// totalDuration bounds how long RunPlan waits before draining the run; it
// should equal the sum of plan's stage durations.
func (e *Engine) RunPlan(ctx context.Context, scn *Scenario, plan vu.Plan, totalDuration time.Duration) (MetricsSnapshot, error) {
	runID := fmt.Sprintf("run-%d", e.runCounter.Add(1))

	logger := events.NoopEventLogger()
	if e.eventLog != nil {
		logger = events.NewEventLoggerWithWriter(runID, "engine", e.eventLog)
	}

	cfg := &vu.VUConfig{
		RunID:          runID,
		WorkerThreads:  e.cfg.WorkerThreads,
		DefaultTimeout: 30 * time.Second,
		Template:       scn,
		Sources:        e.sources,
		Sessions:       session.NewManager(),
		Drivers:        e.drivers,
		Aggregator:     e.aggregator,
		Tracer:         e.tracer,
		Auth:           scn.Auth,
		Events:         logger,
	}

	eng, err := vu.NewEngine(cfg, plan)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("loadspiker: run_scenario: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return MetricsSnapshot{}, fmt.Errorf("loadspiker: run_scenario: %w", err)
	}

	timer := time.NewTimer(totalDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		return newMetricsSnapshot(e.aggregator.Snapshot()), fmt.Errorf("loadspiker: run_scenario: draining: %w", err)
	}

	finalSnap := e.aggregator.Snapshot()
	if ctx.Err() != nil {
		return newMetricsSnapshot(finalSnap), ctx.Err()
	}

	if err := assert.EvaluateAll("run_scenario", scn.AggregateAssertions, finalSnap); err != nil {
		logger.LogStopCondition(runID, "aggregate_assertion", 0, 0, err.Error())
		return newMetricsSnapshot(finalSnap), err
	}

	return newMetricsSnapshot(finalSnap), nil
}

// CustomUserFunc is one virtual user's body for RunCustom: it receives the
// owning Engine (so it can call ExecuteRequest/TCPSend/etc. itself, each
// call recording into this Engine's metrics) and its 0-based user id.
type CustomUserFunc func(ctx context.Context, e *Engine, userID int) error

// RunCustom runs `users` concurrent copies of fn, each looping back to
// back, until duration elapses or ctx is cancelled. When
// Config.WorkerThreads is positive, at most that many calls to fn run at
// the same time; the others wait their turn. Unlike RunScenario,
// there is no scenario compiler or session store in this path: fn is
// responsible for whatever per-iteration state it needs, calling back into
// the Engine's own convenience methods to produce outcomes that feed
// GetMetrics.
func (e *Engine) RunCustom(ctx context.Context, fn CustomUserFunc, users int, duration time.Duration) (MetricsSnapshot, error) {
	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var slots chan struct{}
	if e.cfg.WorkerThreads > 0 {
		slots = make(chan struct{}, e.cfg.WorkerThreads)
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			for runCtx.Err() == nil {
				if slots != nil {
					select {
					case slots <- struct{}{}:
					case <-runCtx.Done():
						return
					}
				}
				err := fn(runCtx, e, userID)
				if slots != nil {
					<-slots
				}
				if err != nil && runCtx.Err() == nil {
					// A custom user function's error ends that user's
					// iteration loop; it does not abort the run.
					return
				}
			}
		}(i)
	}
	wg.Wait()

	return newMetricsSnapshot(e.aggregator.Snapshot()), nil
}
