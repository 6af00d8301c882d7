package vu

import (
	"context"
	"log"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/auth"
	"github.com/ecamuto/LoadSpiker/internal/otel"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
	"github.com/ecamuto/LoadSpiker/internal/scenario"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// VUExecutor owns one virtual user's registry, session store, and
// scenario iteration loop.
type VUExecutor struct {
	vu  *VUInstance
	cfg *VUConfig

	rateLimiter *RateLimiter
	metrics     *VUMetrics
	resultChan  chan<- *OperationResult

	stopCh chan struct{}
	done   chan struct{}
}

// NewVUExecutor wires one VU's executor against the engine-wide shared
// state: the rate limiter, metrics sink, and optional result stream.
func NewVUExecutor(v *VUInstance, cfg *VUConfig, rateLimiter *RateLimiter, m *VUMetrics, resultChan chan<- *OperationResult) *VUExecutor {
	return &VUExecutor{
		vu:          v,
		cfg:         cfg,
		rateLimiter: rateLimiter,
		metrics:     m,
		resultChan:  resultChan,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Stop asks the executor to finish its current operation and exit. Safe to
// call multiple times.
func (e *VUExecutor) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

// Wait blocks until Run has returned.
func (e *VUExecutor) Wait() { <-e.done }

// Run drives the VU's iteration loop: authenticate once, then repeatedly
// compile the scenario and execute setup, operations, and teardown in
// order until the run is cancelled. Every exit path releases the VU's
// connection registry.
func (e *VUExecutor) Run(ctx context.Context) {
	defer close(e.done)

	e.vu.SetState(StateInitializing)
	e.vu.StartedAt = time.Now()

	reg := registry.New()
	defer reg.CloseAll()

	store := e.cfg.Sessions.Acquire(e.vu.ID)
	e.metrics.SessionAcquires.Add(1)
	e.cfg.Events.LogSessionCreated(e.vu.ID, "scenario")

	e.runAuth(ctx, reg, store)

	e.vu.SetState(StateRunning)
	defer func() {
		e.vu.SetState(StateStopped)
		e.vu.StoppedAt = time.Now()
		e.cfg.Events.LogSessionDestroyed(e.vu.ID, "completed", time.Since(e.vu.StartedAt).Milliseconds())
	}()

	for {
		if e.stopping(ctx) {
			return
		}

		setup, ops, teardown := scenario.CompileAll(e.cfg.Template, e.vu.Index, e.cfg.Sources, store)

		if !e.runSequence(ctx, reg, store, setup) {
			return
		}
		if !e.runSequence(ctx, reg, store, ops) {
			return
		}
		if !e.runSequence(ctx, reg, store, teardown) {
			return
		}

		e.metrics.IterationsCompleted.Add(1)

		if think := e.cfg.ThinkTime.Sample(e.vu.RNG); think > 0 {
			e.metrics.ThinkTimeTotalMs.Add(think.Milliseconds())
			if !e.sleep(ctx, think) {
				return
			}
		}
	}
}

func (e *VUExecutor) runAuth(ctx context.Context, reg *registry.Registry, store *session.Store) {
	if len(e.cfg.Auth) == 0 {
		return
	}
	doer := auth.HTTPDoer{Driver: e.cfg.Drivers.HTTP, Registry: reg}
	for _, flow := range e.cfg.Auth {
		if _, err := flow.Authenticate(ctx, doer, store, e.vu.ID); err != nil {
			e.metrics.SessionErrors.Add(1)
			log.Printf("vu %s: authentication flow failed: %v", e.vu.ID, err)
		}
	}
}

// stopping reports whether the VU should end its loop: the run context is
// done, or Stop was called. Checked only between operations, never mid-I/O.
func (e *VUExecutor) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

func (e *VUExecutor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// runSequence executes one compiled operation list (setup, main, or
// teardown) strictly in order, returning false if the VU should stop
// before the list finished.
func (e *VUExecutor) runSequence(ctx context.Context, reg *registry.Registry, store *session.Store, ops []scenario.CompiledOp) bool {
	for _, c := range ops {
		if e.stopping(ctx) {
			return false
		}

		if e.rateLimiter != nil {
			if err := e.rateLimiter.Acquire(ctx); err != nil {
				e.metrics.RateLimitedWaits.Add(1)
				return false
			}
		}

		outcome, start, end := e.dispatch(ctx, reg, withSessionHeaders(c, store))
		e.record(ctx, store, c, outcome, start, end)
	}
	return true
}

func (e *VUExecutor) dispatch(ctx context.Context, reg *registry.Registry, c scenario.CompiledOp) (*protocol.Outcome, time.Time, time.Time) {
	start := time.Now()

	if c.PreFailed != nil {
		return c.PreFailed, start, start
	}

	dispatchCtx := ctx
	var endSpan func()
	if e.cfg.Tracer != nil && e.cfg.Tracer.Enabled() {
		spanCtx, span := e.cfg.Tracer.StartOperationSpan(ctx, otel.OperationSpanOptions{
			RunID:    e.cfg.RunID,
			VUID:     e.vu.ID,
			Protocol: string(c.Op.Kind),
			Target:   targetOf(c.Op),
		})
		dispatchCtx = spanCtx
		endSpan = span.End
	}

	deadline := start.Add(operationTimeout(c.Op, e.cfg.DefaultTimeout))
	outcome, err := e.cfg.Drivers.Dispatch(dispatchCtx, reg, c.Op, deadline)
	end := time.Now()
	if endSpan != nil {
		endSpan()
	}

	if err != nil {
		log.Printf("vu %s: dispatch error for %s: %v", e.vu.ID, c.Op.Kind, err)
		return &protocol.Outcome{Success: false, Error: protocol.ErrInternal}, start, end
	}
	return outcome, start, end
}

func (e *VUExecutor) record(ctx context.Context, store *session.Store, c scenario.CompiledOp, outcome *protocol.Outcome, start, end time.Time) {
	e.metrics.TotalOperations.Add(1)
	if outcome.Success {
		e.metrics.SuccessfulOperations.Add(1)
		e.vu.OperationsCompleted.Add(1)
	} else {
		e.metrics.FailedOperations.Add(1)
		e.vu.OperationsFailed.Add(1)
	}

	protoName := protocolName(c.Op.Kind)
	if c.PreFailed != nil {
		protoName = "compile_error"
	}
	e.cfg.Aggregator.Record(ctx, protoName, targetOf(c.Op), outcome.ResponseTimeUs, outcome.Success)

	if c.PreFailed == nil {
		if c.Op.Kind == protocol.KindHTTPRequest {
			session.ApplyResponseCookies(store, outcome.Headers)
		}
		session.Extract(store, c.Extract, outcome)
	}

	for _, a := range c.Assertions {
		if r := a.Evaluate(outcome); !r.Pass {
			e.metrics.AssertionFailures.Add(1)
			log.Printf("vu %s: assertion failed: %s", e.vu.ID, r.Message)
		}
	}

	if e.resultChan != nil {
		result := &OperationResult{VUID: e.vu.ID, Kind: c.Op.Kind, Outcome: outcome, StartTime: start, EndTime: end}
		select {
		case e.resultChan <- result:
		default:
			e.metrics.DroppedResults.Add(1)
		}
	}
}
