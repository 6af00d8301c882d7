// Package vu implements the virtual-user worker pool: one cooperative task
// per VU, each looping over a compiled scenario until the run's deadline.
package vu

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/auth"
	"github.com/ecamuto/LoadSpiker/internal/datasource"
	"github.com/ecamuto/LoadSpiker/internal/events"
	"github.com/ecamuto/LoadSpiker/internal/metrics"
	"github.com/ecamuto/LoadSpiker/internal/otel"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/scenario"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// ThinkTimeConfig configures the pause between scenario iterations.
type ThinkTimeConfig struct {
	BaseMs   int64
	JitterMs int64
}

// Sample draws one think-time duration: BaseMs plus uniform jitter in
// [0, JitterMs), using rng so the draw is reproducible per VU.
func (c ThinkTimeConfig) Sample(rng *rand.Rand) time.Duration {
	d := c.BaseMs
	if c.JitterMs > 0 {
		d += rng.Int63n(c.JitterMs)
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(d) * time.Millisecond
}

// ChurnConfig makes a Stage spawn bounded-lifetime VUs instead of holding a
// stable pool, the worker-pool expression of a load pattern's spike stage.
type ChurnConfig struct {
	SpawnInterval time.Duration
	VULifetime    time.Duration
}

// Stage is one segment of a run's load plan: hold (or ramp to) TargetVUs for
// Duration.
type Stage struct {
	TargetVUs int
	Duration  time.Duration

	// RampFromVUs > 0 means active users grow linearly from this value to
	// TargetVUs over Duration, rather than jumping immediately.
	RampFromVUs int

	// Churn, when set, means TargetVUs is a concurrency ceiling maintained
	// by continuously spawning and retiring short-lived VUs rather than a
	// stable pool held for Duration.
	Churn *ChurnConfig
}

// Plan is the full stage sequence driving one run's active VU count over
// time.
type Plan struct {
	Stages []Stage
}

// PlanFromUsersDuration builds the plan for the engine's primary
// {users, duration, ramp_up} run shape: linear growth from 1 to Users over
// RampUp, then a hold at Users for the remainder of Duration.
func PlanFromUsersDuration(users int, duration, rampUp time.Duration) Plan {
	if rampUp <= 0 || rampUp >= duration {
		return Plan{Stages: []Stage{{TargetVUs: users, Duration: duration}}}
	}
	return Plan{Stages: []Stage{
		{TargetVUs: users, Duration: rampUp, RampFromVUs: 1},
		{TargetVUs: users, Duration: duration - rampUp},
	}}
}

// VUConfig parameterizes one engine run.
type VUConfig struct {
	RunID string

	// WorkerThreads is stored on the config; Engine does not read it, and
	// every spawned VU runs its operation loop concurrently.
	WorkerThreads int

	// TargetRPS throttles the aggregate rate of operation dispatch across
	// every VU. Zero means unlimited.
	TargetRPS float64

	ThinkTime      ThinkTimeConfig
	DefaultTimeout time.Duration

	Template *scenario.Template
	Sources  *datasource.Manager
	Sessions *session.Manager
	Auth     []auth.Flow
	Drivers  protocol.Drivers

	Aggregator *metrics.Aggregator
	Tracer     *otel.Tracer

	// Events receives structured stage-transition and session lifecycle
	// events. Nil is treated as events.NoopEventLogger().
	Events *events.EventLogger
}

// VUState is the lifecycle state of a virtual user.
type VUState string

const (
	StateIdle         VUState = "idle"
	StateInitializing VUState = "initializing"
	StateRunning      VUState = "running"
	StateDraining     VUState = "draining"
	StateStopped      VUState = "stopped"
)

// VUInstance is one virtual user's identity and lifecycle state, shared
// between the Engine and its VUExecutor.
type VUInstance struct {
	ID    string
	Index int

	state atomic.Value // VUState

	RNG *rand.Rand

	StartedAt time.Time
	StoppedAt time.Time

	OperationsCompleted atomic.Int64
	OperationsFailed    atomic.Int64

	cancel context.CancelFunc
}

// NewVUInstance creates an idle VU identified by id/index and seeded for
// reproducible think-time sampling.
func NewVUInstance(id string, index int, seed int64) *VUInstance {
	v := &VUInstance{ID: id, Index: index, RNG: rand.New(rand.NewSource(seed))}
	v.state.Store(StateIdle)
	return v
}

func (v *VUInstance) State() VUState     { return v.state.Load().(VUState) }
func (v *VUInstance) SetState(s VUState) { v.state.Store(s) }

// VUMetrics holds the worker pool's atomic counters, read back via
// Snapshot. Safe for concurrent use by any number of VU goroutines.
type VUMetrics struct {
	ActiveVUs          atomic.Int64
	TotalVUsCreated    atomic.Int64
	TotalVUsTerminated atomic.Int64

	TotalOperations      atomic.Int64
	SuccessfulOperations atomic.Int64
	FailedOperations     atomic.Int64
	RateLimitedWaits     atomic.Int64

	AssertionFailures atomic.Int64

	IterationsCompleted atomic.Int64
	ThinkTimeTotalMs    atomic.Int64

	SessionAcquires atomic.Int64
	SessionErrors   atomic.Int64

	DroppedResults atomic.Int64
}

func NewVUMetrics() *VUMetrics { return &VUMetrics{} }

// VUMetricsSnapshot is a point-in-time copy of VUMetrics.
type VUMetricsSnapshot struct {
	ActiveVUs            int64
	TotalVUsCreated      int64
	TotalVUsTerminated   int64
	TotalOperations      int64
	SuccessfulOperations int64
	FailedOperations     int64
	RateLimitedWaits     int64
	AssertionFailures    int64
	IterationsCompleted  int64
	ThinkTimeTotalMs     int64
	SessionAcquires      int64
	SessionErrors        int64
	DroppedResults       int64
}

func (m *VUMetrics) Snapshot() VUMetricsSnapshot {
	return VUMetricsSnapshot{
		ActiveVUs:            m.ActiveVUs.Load(),
		TotalVUsCreated:      m.TotalVUsCreated.Load(),
		TotalVUsTerminated:   m.TotalVUsTerminated.Load(),
		TotalOperations:      m.TotalOperations.Load(),
		SuccessfulOperations: m.SuccessfulOperations.Load(),
		FailedOperations:     m.FailedOperations.Load(),
		RateLimitedWaits:     m.RateLimitedWaits.Load(),
		AssertionFailures:    m.AssertionFailures.Load(),
		IterationsCompleted:  m.IterationsCompleted.Load(),
		ThinkTimeTotalMs:     m.ThinkTimeTotalMs.Load(),
		SessionAcquires:      m.SessionAcquires.Load(),
		SessionErrors:        m.SessionErrors.Load(),
		DroppedResults:       m.DroppedResults.Load(),
	}
}

// OperationResult is one completed operation, streamed out for progress
// reporting (e.g. a CLI's --no-progress toggle) independent of the
// aggregated metrics.Snapshot.
type OperationResult struct {
	VUID      string
	Kind      protocol.Kind
	Outcome   *protocol.Outcome
	StartTime time.Time
	EndTime   time.Time
}

// VUEngineError reports a worker-pool-level failure (not a per-operation
// outcome).
type VUEngineError struct {
	Op  string
	Err error
}

func (e *VUEngineError) Error() string { return "vu engine: " + e.Op + ": " + e.Err.Error() }
func (e *VUEngineError) Unwrap() error { return e.Err }

type errorString string

func (e errorString) Error() string { return string(e) }

var (
	ErrEngineClosed  = &VUEngineError{Op: "start", Err: errorString("engine closed")}
	ErrInvalidConfig = &VUEngineError{Op: "create", Err: errorString("invalid configuration")}
	ErrNoOperations  = &VUEngineError{Op: "create", Err: errorString("scenario template has no operations")}
)
