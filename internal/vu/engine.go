package vu

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/events"
)

// Engine owns a run's VU pool and drives it through a Plan's stage
// sequence, spawning, ramping, and retiring VUs as each stage requires.
type Engine struct {
	config *VUConfig
	plan   Plan

	rateLimiter *RateLimiter
	metrics     *VUMetrics
	resultChan  chan *OperationResult

	vus       map[string]*VUInstance
	executors map[string]*VUExecutor
	vuMu      sync.RWMutex

	vuCounter atomic.Int64
	closed    atomic.Bool
	started   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	planWG sync.WaitGroup
}

// NewEngine validates cfg and plan and builds an idle engine. Start begins
// driving the plan; nothing runs before that.
func NewEngine(cfg *VUConfig, plan Plan) (*Engine, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Template == nil || len(cfg.Template.Operations) == 0 {
		return nil, ErrNoOperations
	}
	if cfg.Sessions == nil {
		return nil, &VUEngineError{Op: "create", Err: errorString("session manager is required")}
	}
	if len(plan.Stages) == 0 {
		return nil, &VUEngineError{Op: "create", Err: errorString("load plan has no stages")}
	}
	if cfg.Events == nil {
		cfg.Events = events.NoopEventLogger()
	}

	return &Engine{
		config:      cfg,
		plan:        plan,
		rateLimiter: NewRateLimiter(cfg.TargetRPS),
		metrics:     NewVUMetrics(),
		resultChan:  make(chan *OperationResult, 4096),
		vus:         make(map[string]*VUInstance),
		executors:   make(map[string]*VUExecutor),
	}, nil
}

// Start begins driving the run's stage sequence in the background. Safe to
// call once; subsequent calls are no-ops.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.started.Swap(true) {
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	e.planWG.Add(1)
	go func() {
		defer e.planWG.Done()
		e.runPlan()
	}()

	return nil
}

// Stop cancels the run, asks every VU to finish its current operation, and
// waits for the pool to drain or ctx to expire.
func (e *Engine) Stop(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.planWG.Wait()
		e.stopAllLocked()
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(e.resultChan)
	return nil
}

func (e *Engine) Metrics() *VUMetrics                { return e.metrics }
func (e *Engine) MetricsSnapshot() VUMetricsSnapshot { return e.metrics.Snapshot() }
func (e *Engine) Results() <-chan *OperationResult   { return e.resultChan }
func (e *Engine) ActiveVUs() int                     { return int(e.metrics.ActiveVUs.Load()) }
func (e *Engine) IsClosed() bool                     { return e.closed.Load() }

// runPlan walks the stage sequence to completion or until the run context
// is cancelled. VUs still running afterwards are retired by Stop.
func (e *Engine) runPlan() {
	for i, stage := range e.plan.Stages {
		if e.ctx.Err() != nil {
			break
		}
		e.logStageTransition(i, stage)
		e.runStage(stage)
	}
}

func (e *Engine) logStageTransition(index int, stage Stage) {
	from := "start"
	if index > 0 {
		from = strconv.Itoa(index - 1)
	}
	reason := "hold"
	switch {
	case stage.Churn != nil:
		reason = "churn"
	case stage.RampFromVUs > 0:
		reason = "ramp"
	}
	e.config.Events.LogStageTransition(from, strconv.Itoa(index), e.config.RunID, reason)
}

func (e *Engine) runStage(stage Stage) {
	switch {
	case stage.Churn != nil:
		e.runChurnStage(stage)
	case stage.RampFromVUs > 0:
		e.runRampStage(stage)
	default:
		e.setSteadyVUCount(stage.TargetVUs)
		e.waitStage(stage.Duration)
	}
}

// runRampStage linearly grows the held VU pool from RampFromVUs to
// TargetVUs over Duration, ticking at a granularity fine enough to look
// continuous without spawning a goroutine per intermediate VU count.
func (e *Engine) runRampStage(stage Stage) {
	start := stage.RampFromVUs
	end := stage.TargetVUs
	e.setSteadyVUCount(start)

	if end == start || stage.Duration <= 0 {
		return
	}

	steps := end - start
	if steps < 0 {
		steps = -steps
	}
	interval := stage.Duration / time.Duration(steps)
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(stage.Duration)
	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				e.setSteadyVUCount(end)
				return
			}
			elapsed := now.Sub(deadline.Add(-stage.Duration))
			frac := float64(elapsed) / float64(stage.Duration)
			if frac > 1 {
				frac = 1
			}
			current := start + int(float64(end-start)*frac)
			e.setSteadyVUCount(current)
		}
	}
}

// runChurnStage maintains up to TargetVUs concurrently by continuously
// spawning bounded-lifetime VUs, the worker-pool expression of a spike
// stage, for the stage's full Duration.
func (e *Engine) runChurnStage(stage Stage) {
	ticker := time.NewTicker(stage.Churn.SpawnInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(stage.Duration)
	defer deadline.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			e.vuMu.Lock()
			if int(e.metrics.ActiveVUs.Load()) < stage.TargetVUs {
				e.spawnChurnVULocked(stage.Churn.VULifetime)
			}
			e.vuMu.Unlock()
		}
	}
}

// waitStage blocks for d or until the run is cancelled.
func (e *Engine) waitStage(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
	case <-timer.C:
	}
}

// setSteadyVUCount spawns or retires held VUs until the pool has exactly
// target members. Churn-spawned VUs are left alone; they retire on their
// own lifetime.
func (e *Engine) setSteadyVUCount(target int) {
	e.vuMu.Lock()
	defer e.vuMu.Unlock()

	current := len(e.vus)
	if target > current {
		for i := current; i < target; i++ {
			e.spawnVULocked()
		}
	} else if target < current {
		toRemove := current - target
		removed := 0
		for vuID, executor := range e.executors {
			if removed >= toRemove {
				break
			}
			executor.Stop()
			delete(e.executors, vuID)
			delete(e.vus, vuID)
			removed++
		}
	}
}

func (e *Engine) spawnVULocked() {
	vuNum := e.vuCounter.Add(1)
	vuID := fmt.Sprintf("%s-vu-%d", e.config.RunID, vuNum)
	seed := vuNum

	v := NewVUInstance(vuID, int(vuNum), seed)
	e.vus[vuID] = v
	e.metrics.TotalVUsCreated.Add(1)
	e.metrics.ActiveVUs.Add(1)

	executor := NewVUExecutor(v, e.config, e.rateLimiter, e.metrics, e.resultChan)
	e.executors[vuID] = executor

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		executor.Run(e.ctx)
		e.metrics.TotalVUsTerminated.Add(1)
		e.metrics.ActiveVUs.Add(-1)
	}()
}

func (e *Engine) spawnChurnVULocked(lifetime time.Duration) {
	vuNum := e.vuCounter.Add(1)
	vuID := fmt.Sprintf("%s-churn-vu-%d", e.config.RunID, vuNum)
	seed := vuNum

	v := NewVUInstance(vuID, int(vuNum), seed)
	e.vus[vuID] = v
	e.metrics.TotalVUsCreated.Add(1)
	e.metrics.ActiveVUs.Add(1)

	executor := NewVUExecutor(v, e.config, e.rateLimiter, e.metrics, e.resultChan)
	e.executors[vuID] = executor

	vuCtx, vuCancel := context.WithTimeout(e.ctx, lifetime)
	v.cancel = vuCancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer vuCancel()
		executor.Run(vuCtx)

		e.vuMu.Lock()
		delete(e.vus, vuID)
		delete(e.executors, vuID)
		e.vuMu.Unlock()

		e.metrics.TotalVUsTerminated.Add(1)
		e.metrics.ActiveVUs.Add(-1)
	}()
}

func (e *Engine) stopAllLocked() {
	e.vuMu.RLock()
	defer e.vuMu.RUnlock()
	for _, executor := range e.executors {
		executor.Stop()
	}
}

// VUCount returns the number of VUs currently held in the pool (churn VUs
// included while alive).
func (e *Engine) VUCount() int {
	e.vuMu.RLock()
	defer e.vuMu.RUnlock()
	return len(e.vus)
}

func (e *Engine) Config() *VUConfig { return e.config }
