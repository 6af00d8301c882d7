package loadspiker

import (
	"context"
	"fmt"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
)

// The methods below are the direct, non-scenario protocol convenience
// calls: one operation against the engine's shared ad-hoc connection
// registry, each folding its outcome into GetMetrics the same way
// ExecuteRequest and a running Scenario do.

// WebsocketConnect opens (or reuses) a WebSocket connection to url.
func (e *Engine) WebsocketConnect(ctx context.Context, url string, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindWSConnect, WS: &protocol.WSParams{URL: url, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "ws", url, op, timeoutMs)
}

// WebsocketSend writes message to an already-connected WebSocket.
func (e *Engine) WebsocketSend(ctx context.Context, url, message string, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindWSSend, WS: &protocol.WSParams{URL: url, Message: message, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "ws", url, op, timeoutMs)
}

// WebsocketClose closes a WebSocket connection.
func (e *Engine) WebsocketClose(ctx context.Context, url string, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindWSClose, WS: &protocol.WSParams{URL: url, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "ws", url, op, timeoutMs)
}

// TCPConnect opens (or reuses) a raw TCP connection to host:port.
func (e *Engine) TCPConnect(ctx context.Context, host string, port int, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindTCPConnect, TCP: &protocol.TCPParams{Host: host, Port: port, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "tcp", hostPortTarget(host, port), op, timeoutMs)
}

// TCPSend writes data fully to an already-connected TCP socket. Without a
// prior TCPConnect on the same host:port, the outcome fails with
// ErrNoConnection.
func (e *Engine) TCPSend(ctx context.Context, host string, port int, data []byte, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindTCPSend, TCP: &protocol.TCPParams{Host: host, Port: port, Data: data, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "tcp", hostPortTarget(host, port), op, timeoutMs)
}

// TCPReceive reads up to 4 KiB from an already-connected TCP socket or
// until timeoutMs elapses.
func (e *Engine) TCPReceive(ctx context.Context, host string, port int, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindTCPReceive, TCP: &protocol.TCPParams{Host: host, Port: port, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "tcp", hostPortTarget(host, port), op, timeoutMs)
}

// TCPDisconnect closes a TCP connection. A later TCPSend/TCPReceive on the
// same host:port fails with ErrNoConnection until reconnected.
func (e *Engine) TCPDisconnect(ctx context.Context, host string, port int, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindTCPDisconnect, TCP: &protocol.TCPParams{Host: host, Port: port, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "tcp", hostPortTarget(host, port), op, timeoutMs)
}

// UDPCreateEndpoint opens a datagram socket bound to an ephemeral port for
// sending to / receiving from host:port.
func (e *Engine) UDPCreateEndpoint(ctx context.Context, host string, port int, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindUDPCreateEndpoint, UDP: &protocol.UDPParams{Host: host, Port: port, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "udp", hostPortTarget(host, port), op, timeoutMs)
}

// UDPSend sends one datagram to host:port. A zero-length payload is a
// valid send.
func (e *Engine) UDPSend(ctx context.Context, host string, port int, data []byte, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindUDPSend, UDP: &protocol.UDPParams{Host: host, Port: port, Data: data, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "udp", hostPortTarget(host, port), op, timeoutMs)
}

// UDPReceive reads one datagram from the endpoint created for host:port,
// or until timeoutMs elapses. Without a prior UDPCreateEndpoint, the
// outcome fails with ErrNoEndpoint.
func (e *Engine) UDPReceive(ctx context.Context, host string, port int, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindUDPReceive, UDP: &protocol.UDPParams{Host: host, Port: port, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "udp", hostPortTarget(host, port), op, timeoutMs)
}

// UDPCloseEndpoint closes a UDP endpoint.
func (e *Engine) UDPCloseEndpoint(ctx context.Context, host string, port int, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindUDPCloseEndpoint, UDP: &protocol.UDPParams{Host: host, Port: port, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "udp", hostPortTarget(host, port), op, timeoutMs)
}

// MQTTConnect opens (or reuses) an MQTT client connection to broker:port.
func (e *Engine) MQTTConnect(ctx context.Context, broker string, port int, clientID, username, password string, keepAliveMs, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindMQTTConnect, MQTT: &protocol.MQTTParams{
		Broker: broker, Port: port, ClientID: clientID, Username: username, Password: password,
		KeepAlive: msDuration(keepAliveMs), Timeout: msDuration(timeoutMs),
	}}
	return e.dispatch(ctx, "mqtt", hostPortTarget(broker, port), op, timeoutMs)
}

// MQTTPublish publishes payload to topic at the given QoS.
func (e *Engine) MQTTPublish(ctx context.Context, broker string, port int, clientID, topic string, payload []byte, qos int, retain bool, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindMQTTPublish, MQTT: &protocol.MQTTParams{
		Broker: broker, Port: port, ClientID: clientID, Topic: topic, Payload: payload,
		QoS: protocol.MQTTQoS(qos), Retain: retain, Timeout: msDuration(timeoutMs),
	}}
	return e.dispatch(ctx, "mqtt", hostPortTarget(broker, port), op, timeoutMs)
}

// MQTTSubscribe subscribes the connected client to topic.
func (e *Engine) MQTTSubscribe(ctx context.Context, broker string, port int, clientID, topic string, qos int, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindMQTTSubscribe, MQTT: &protocol.MQTTParams{
		Broker: broker, Port: port, ClientID: clientID, Topic: topic, QoS: protocol.MQTTQoS(qos), Timeout: msDuration(timeoutMs),
	}}
	return e.dispatch(ctx, "mqtt", hostPortTarget(broker, port), op, timeoutMs)
}

// MQTTUnsubscribe unsubscribes the connected client from topic.
func (e *Engine) MQTTUnsubscribe(ctx context.Context, broker string, port int, clientID, topic string, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindMQTTUnsubscribe, MQTT: &protocol.MQTTParams{
		Broker: broker, Port: port, ClientID: clientID, Topic: topic, Timeout: msDuration(timeoutMs),
	}}
	return e.dispatch(ctx, "mqtt", hostPortTarget(broker, port), op, timeoutMs)
}

// MQTTDisconnect disconnects the MQTT client.
func (e *Engine) MQTTDisconnect(ctx context.Context, broker string, port int, clientID string, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindMQTTDisconnect, MQTT: &protocol.MQTTParams{
		Broker: broker, Port: port, ClientID: clientID, Timeout: msDuration(timeoutMs),
	}}
	return e.dispatch(ctx, "mqtt", hostPortTarget(broker, port), op, timeoutMs)
}

// DatabaseConnect opens (or reuses) a database connection. kind may be
// empty to auto-detect from connString's scheme (mysql://, postgresql://,
// mongodb://).
func (e *Engine) DatabaseConnect(ctx context.Context, connString string, kind DBKind, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindDBConnect, DB: &protocol.DBParams{ConnString: connString, Kind: kind, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "db", connString, op, timeoutMs)
}

// DatabaseQuery runs query against an already-connected database handle.
func (e *Engine) DatabaseQuery(ctx context.Context, connString string, kind DBKind, query string, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindDBQuery, DB: &protocol.DBParams{ConnString: connString, Kind: kind, Query: query, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "db", connString, op, timeoutMs)
}

// DatabaseDisconnect closes a database connection.
func (e *Engine) DatabaseDisconnect(ctx context.Context, connString string, kind DBKind, timeoutMs int) (*Outcome, error) {
	op := protocol.Operation{Kind: protocol.KindDBDisconnect, DB: &protocol.DBParams{ConnString: connString, Kind: kind, Timeout: msDuration(timeoutMs)}}
	return e.dispatch(ctx, "db", connString, op, timeoutMs)
}

func hostPortTarget(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
