// Package scenario compiles a Scenario Template — an ordered list of
// operation templates with placeholder fields — into a concrete list of
// protocol.Operation values for one virtual user's iteration.
package scenario

import (
	"time"

	"github.com/ecamuto/LoadSpiker/internal/assert"
	"github.com/ecamuto/LoadSpiker/internal/auth"
	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// HTTPTemplate mirrors protocol.HTTPParams with templated string fields.
type HTTPTemplate struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// WSTemplate mirrors protocol.WSParams with templated string fields.
type WSTemplate struct {
	URL     string
	Message string
	Timeout time.Duration
}

// TCPTemplate mirrors protocol.TCPParams with templated string fields.
type TCPTemplate struct {
	Host    string
	Port    int
	Data    string
	Timeout time.Duration
}

// UDPTemplate mirrors protocol.UDPParams with templated string fields.
type UDPTemplate struct {
	Host    string
	Port    int
	Data    string
	Timeout time.Duration
}

// MQTTTemplate mirrors protocol.MQTTParams with templated string fields.
type MQTTTemplate struct {
	Broker    string
	Port      int
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	Topic     string
	Payload   string
	QoS       protocol.MQTTQoS
	Retain    bool
	Timeout   time.Duration
}

// DBTemplate mirrors protocol.DBParams with templated string fields.
type DBTemplate struct {
	ConnString string
	Kind       protocol.DBKind
	Query      string
	Timeout    time.Duration
}

// OperationTemplate is one step of a Scenario Template, tagged by Kind like
// protocol.Operation but with placeholder-bearing string fields.
type OperationTemplate struct {
	Kind protocol.Kind

	HTTP *HTTPTemplate
	WS   *WSTemplate
	TCP  *TCPTemplate
	UDP  *UDPTemplate
	MQTT *MQTTTemplate
	DB   *DBTemplate

	// Extract names session variables to populate from this operation's
	// outcome, evaluated right after the operation completes so they are
	// visible to every later operation in the same iteration.
	Extract []session.ExtractionRule

	// Assertions are evaluated against this operation's outcome as soon as
	// it completes.
	Assertions []assert.ResponseAssertion
}

// Template is a named, ordered scenario: operation templates, the data
// sources they draw rows from, optional setup/teardown hooks run once per
// VU iteration, and an initial variable map that supplies placeholder
// values the VU's session does not define (a session variable of the same
// name wins; the map is never written into the session).
type Template struct {
	Name             string
	Operations       []OperationTemplate
	Sources          []string
	Setup            []OperationTemplate
	Teardown         []OperationTemplate
	InitialVariables map[string]any

	// Auth runs once per VU, before its first iteration, populating the
	// VU's session with whatever credential material (tokens, cookies,
	// headers) its operations reference. Every flow runs, in order; a
	// flow's failure is logged and does not block the others.
	Auth []auth.Flow

	// AggregateAssertions are evaluated once, after the run has fully
	// drained, against the engine's final metrics snapshot. They gate
	// the run the way a CI threshold check does: a failure surfaces as
	// an *assert.EvaluationError without discarding the snapshot itself.
	AggregateAssertions []assert.AggregateAssertion
}
