// Package loadspiker is the library entry point: Engine composes the
// metrics aggregator, protocol drivers, connection registry, session
// store, data sources, scenario compiler, worker pool, and assertion
// evaluators behind the programmatic surface external callers use.
//
// Everything under internal/ is unreachable from outside this module, so
// this file re-exports the types a caller needs to build a Scenario, load
// a DataSource, or write an AuthFlow/ResponseAssertion/AggregateAssertion,
// without exposing the internal packages themselves.
package loadspiker

import (
	"github.com/ecamuto/LoadSpiker/internal/assert"
	"github.com/ecamuto/LoadSpiker/internal/auth"
	"github.com/ecamuto/LoadSpiker/internal/datasource"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/scenario"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

type (
	// Scenario is a named, ordered operation-template list plus the data
	// sources, setup/teardown hooks, and initial variables it compiles
	// against per virtual user.
	Scenario = scenario.Template
	// Operation is one step of a Scenario.
	Operation = scenario.OperationTemplate

	HTTPOp = scenario.HTTPTemplate
	WSOp   = scenario.WSTemplate
	TCPOp  = scenario.TCPTemplate
	UDPOp  = scenario.UDPTemplate
	MQTTOp = scenario.MQTTTemplate
	DBOp   = scenario.DBTemplate

	// OperationKind tags which protocol action an Operation carries.
	OperationKind = protocol.Kind

	// ExtractionRule names a session variable populated from an
	// operation's outcome, visible to every later operation in the same
	// iteration.
	ExtractionRule = session.ExtractionRule
	RuleKind       = session.RuleKind

	// ResponseAssertion is evaluated against one operation's outcome as
	// soon as it completes.
	ResponseAssertion = assert.ResponseAssertion
	ResponseGroup     = assert.ResponseGroup

	StatusIs          = assert.StatusIs
	ResponseTimeUnder = assert.ResponseTimeUnder
	BodyContains      = assert.BodyContains
	BodyMatches       = assert.BodyMatches
	JSONPathAssertion = assert.JSONPath
	HeaderExists      = assert.HeaderExists
	CustomResponse    = assert.CustomResponse

	// AggregateAssertion is evaluated once, after a run, against the
	// final MetricsSnapshot.
	AggregateAssertion = assert.AggregateAssertion
	AggregateGroup     = assert.AggregateGroup

	ThroughputAtLeast        = assert.ThroughputAtLeast
	AvgResponseTimeUnder     = assert.AvgResponseTimeUnder
	ErrorRateBelow           = assert.ErrorRateBelow
	SuccessRateAtLeast       = assert.SuccessRateAtLeast
	MaxResponseTimeUnder     = assert.MaxResponseTimeUnder
	TotalRequestsAtLeast     = assert.TotalRequestsAtLeast
	CustomAggregate          = assert.CustomAggregate
	AssertionEvaluationError = assert.EvaluationError

	// AssertLogic selects how a Group combines its rules.
	AssertLogic  = assert.Logic
	AssertResult = assert.Result

	// AuthFlow authenticates a virtual user once, before its first
	// iteration. Basic and ApiKey set a static header with no network
	// call; Bearer and OAuth2AuthCode exchange credentials at a token
	// endpoint; Custom wraps an arbitrary function for anything else.
	AuthFlow       = auth.Flow
	BasicAuth      = auth.Basic
	ApiKeyAuth     = auth.ApiKey
	BearerAuth     = auth.Bearer
	OAuth2AuthCode = auth.OAuth2AuthCode
	CustomAuth     = auth.Custom

	DataSource   = datasource.Source
	DataStrategy = datasource.Strategy
	DataRow      = datasource.Row
	DBKind       = protocol.DBKind
)

// Extraction rule kinds, mirroring session.RuleKind.
const (
	RuleJSONPath     = session.RuleJSONPath
	RuleRegex        = session.RuleRegex
	RuleHeader       = session.RuleHeader
	RuleCookie       = session.RuleCookie
	RuleStatusCode   = session.RuleStatusCode
	RuleResponseTime = session.RuleResponseTime
)

// Assertion group logic.
const (
	AssertAND = assert.AND
	AssertOR  = assert.OR
)

// Data source distribution strategies.
const (
	Sequential = datasource.Sequential
	Random     = datasource.Random
	Circular   = datasource.Circular
	Unique     = datasource.Unique
	Shared     = datasource.Shared
)

// Database backends, auto-detected from a connection string's scheme when
// left empty.
const (
	DBKindMySQL      = protocol.DBKindMySQL
	DBKindPostgreSQL = protocol.DBKindPostgreSQL
	DBKindMongoDB    = protocol.DBKindMongoDB
)

// Operation kinds, for building Operation.Kind directly.
const (
	KindHTTPRequest = protocol.KindHTTPRequest

	KindWSConnect = protocol.KindWSConnect
	KindWSSend    = protocol.KindWSSend
	KindWSClose   = protocol.KindWSClose

	KindTCPConnect    = protocol.KindTCPConnect
	KindTCPSend       = protocol.KindTCPSend
	KindTCPReceive    = protocol.KindTCPReceive
	KindTCPDisconnect = protocol.KindTCPDisconnect

	KindUDPCreateEndpoint = protocol.KindUDPCreateEndpoint
	KindUDPSend           = protocol.KindUDPSend
	KindUDPReceive        = protocol.KindUDPReceive
	KindUDPCloseEndpoint  = protocol.KindUDPCloseEndpoint

	KindMQTTConnect     = protocol.KindMQTTConnect
	KindMQTTPublish     = protocol.KindMQTTPublish
	KindMQTTSubscribe   = protocol.KindMQTTSubscribe
	KindMQTTUnsubscribe = protocol.KindMQTTUnsubscribe
	KindMQTTDisconnect  = protocol.KindMQTTDisconnect

	KindDBConnect    = protocol.KindDBConnect
	KindDBQuery      = protocol.KindDBQuery
	KindDBDisconnect = protocol.KindDBDisconnect
)

// Error categories surfaced in Outcome.ErrorMessage and in logs.
const (
	ErrInvalidInput      = protocol.ErrInvalidInput
	ErrTimeout           = protocol.ErrTimeout
	ErrConnectionRefused = protocol.ErrConnectionRefused
	ErrConnectionLost    = protocol.ErrConnectionLost
	ErrResolveFailed     = protocol.ErrResolveFailed
	ErrTLSError          = protocol.ErrTLSError
	ErrProtocolError     = protocol.ErrProtocolError
	ErrNoConnection      = protocol.ErrNoConnection
	ErrNoEndpoint        = protocol.ErrNoEndpoint
	ErrCancelled         = protocol.ErrCancelled
	ErrInternal          = protocol.ErrInternal
)
