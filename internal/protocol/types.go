// Package protocol defines the Operation/Outcome data model shared by every
// protocol driver and the exhaustive dispatcher that routes one to the
// other.
package protocol

import (
	"time"
)

// Kind tags which protocol (and which action within that protocol) an
// Operation carries. Exactly one of Operation's param fields is non-nil for
// a given Kind; Dispatch is an exhaustive switch over Kind, not an open
// registry lookup.
type Kind string

const (
	KindHTTPRequest Kind = "http_request"

	KindWSConnect Kind = "ws_connect"
	KindWSSend    Kind = "ws_send"
	KindWSClose   Kind = "ws_close"

	KindTCPConnect    Kind = "tcp_connect"
	KindTCPSend       Kind = "tcp_send"
	KindTCPReceive    Kind = "tcp_receive"
	KindTCPDisconnect Kind = "tcp_disconnect"

	KindUDPCreateEndpoint Kind = "udp_create_endpoint"
	KindUDPSend           Kind = "udp_send"
	KindUDPReceive        Kind = "udp_receive"
	KindUDPCloseEndpoint  Kind = "udp_close_endpoint"

	KindMQTTConnect     Kind = "mqtt_connect"
	KindMQTTPublish     Kind = "mqtt_publish"
	KindMQTTSubscribe   Kind = "mqtt_subscribe"
	KindMQTTUnsubscribe Kind = "mqtt_unsubscribe"
	KindMQTTDisconnect  Kind = "mqtt_disconnect"

	KindDBConnect    Kind = "db_connect"
	KindDBQuery      Kind = "db_query"
	KindDBDisconnect Kind = "db_disconnect"
)

// HTTPParams carries every field needed by an HTTP operation.
type HTTPParams struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// WSParams carries fields for WsConnect/WsSend/WsClose.
type WSParams struct {
	URL     string
	Message string
	Timeout time.Duration
}

// TCPParams carries fields for TcpConnect/TcpSend/TcpReceive/TcpDisconnect.
type TCPParams struct {
	Host    string
	Port    int
	Data    []byte
	Timeout time.Duration
}

// UDPParams carries fields for UdpCreateEndpoint/UdpSend/UdpReceive/UdpCloseEndpoint.
type UDPParams struct {
	Host    string
	Port    int
	Data    []byte
	Timeout time.Duration
}

// MQTTQoS is the MQTT quality-of-service level (0, 1, or 2).
type MQTTQoS int

// MQTTParams carries fields for the MQTT connect/publish/subscribe/unsubscribe/disconnect family.
type MQTTParams struct {
	Broker    string
	Port      int
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	Topic     string
	Payload   []byte
	QoS       MQTTQoS
	Retain    bool
	Timeout   time.Duration
}

// DBKind identifies the database backend; auto-detected from a connection
// string's scheme when left empty.
type DBKind string

const (
	DBKindMySQL      DBKind = "mysql"
	DBKindPostgreSQL DBKind = "postgresql"
	DBKindMongoDB    DBKind = "mongodb"
)

// DBParams carries fields for DbConnect/DbQuery/DbDisconnect.
type DBParams struct {
	ConnString string
	Kind       DBKind
	Query      string
	Timeout    time.Duration
}

// Operation is the tagged union over every protocol action the engine can
// dispatch. Immutable once compiled by the scenario compiler.
type Operation struct {
	Kind Kind

	HTTP *HTTPParams
	WS   *WSParams
	TCP  *TCPParams
	UDP  *UDPParams
	MQTT *MQTTParams
	DB   *DBParams
}

// Error categories from the engine's error taxonomy, surfaced in
// Outcome.Error and in logs.
const (
	ErrInvalidInput       = "invalid_input"
	ErrTimeout            = "timeout"
	ErrConnectionRefused  = "connection_refused"
	ErrConnectionLost     = "connection_lost"
	ErrResolveFailed      = "resolve_failed"
	ErrTLSError           = "tls_error"
	ErrProtocolError      = "protocol_error"
	ErrNoConnection       = "no_connection"
	ErrNoEndpoint         = "no_endpoint"
	ErrCancelled          = "cancelled"
	ErrInternal           = "internal"
)

// Outcome is the structured result of executing one Operation. Produced by
// drivers; consumed by the metrics aggregator, assertion evaluators, and
// session extraction rules.
type Outcome struct {
	Success        bool
	StatusCode     int
	ResponseTimeUs int64
	Body           []byte
	Headers        map[string]string
	Error          string
	ProtocolData   map[string]any
}

// ResponseTimeMs is the outcome's latency expressed in milliseconds,
// derived from the canonical microsecond storage.
func (o Outcome) ResponseTimeMs() float64 {
	return float64(o.ResponseTimeUs) / 1000.0
}
