package vu

import (
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/scenario"
	"github.com/ecamuto/LoadSpiker/internal/session"
)

// withSessionHeaders merges session-derived cookie/token headers into an
// HTTP operation before dispatch, so a flow's Authenticate call (which only
// writes the session store) actually reaches the wire. Non-HTTP operations
// and pre-failed operations pass through unchanged.
func withSessionHeaders(c scenario.CompiledOp, store *session.Store) scenario.CompiledOp {
	if c.PreFailed != nil || c.Op.Kind != protocol.KindHTTPRequest || c.Op.HTTP == nil {
		return c
	}
	merged := *c.Op.HTTP
	merged.Headers = store.PrepareRequestHeaders(c.Op.HTTP.Headers)
	c.Op.HTTP = &merged
	return c
}

// operationTimeout returns the operation's own timeout if it set one,
// otherwise the engine-wide default.
func operationTimeout(op protocol.Operation, def time.Duration) time.Duration {
	var t time.Duration
	switch op.Kind {
	case protocol.KindHTTPRequest:
		if op.HTTP != nil {
			t = op.HTTP.Timeout
		}
	case protocol.KindWSConnect, protocol.KindWSSend, protocol.KindWSClose:
		if op.WS != nil {
			t = op.WS.Timeout
		}
	case protocol.KindTCPConnect, protocol.KindTCPSend, protocol.KindTCPReceive, protocol.KindTCPDisconnect:
		if op.TCP != nil {
			t = op.TCP.Timeout
		}
	case protocol.KindUDPCreateEndpoint, protocol.KindUDPSend, protocol.KindUDPReceive, protocol.KindUDPCloseEndpoint:
		if op.UDP != nil {
			t = op.UDP.Timeout
		}
	case protocol.KindMQTTConnect, protocol.KindMQTTPublish, protocol.KindMQTTSubscribe, protocol.KindMQTTUnsubscribe, protocol.KindMQTTDisconnect:
		if op.MQTT != nil {
			t = op.MQTT.Timeout
		}
	case protocol.KindDBConnect, protocol.KindDBQuery, protocol.KindDBDisconnect:
		if op.DB != nil {
			t = op.DB.Timeout
		}
	}
	if t <= 0 {
		if def <= 0 {
			return 30 * time.Second
		}
		return def
	}
	return t
}

// protocolName groups an operation Kind into its protocol family, the
// dimension the metrics aggregator and OpenTelemetry instruments record
// against.
func protocolName(k protocol.Kind) string {
	switch k {
	case protocol.KindHTTPRequest:
		return "http"
	case protocol.KindWSConnect, protocol.KindWSSend, protocol.KindWSClose:
		return "ws"
	case protocol.KindTCPConnect, protocol.KindTCPSend, protocol.KindTCPReceive, protocol.KindTCPDisconnect:
		return "tcp"
	case protocol.KindUDPCreateEndpoint, protocol.KindUDPSend, protocol.KindUDPReceive, protocol.KindUDPCloseEndpoint:
		return "udp"
	case protocol.KindMQTTConnect, protocol.KindMQTTPublish, protocol.KindMQTTSubscribe, protocol.KindMQTTUnsubscribe, protocol.KindMQTTDisconnect:
		return "mqtt"
	case protocol.KindDBConnect, protocol.KindDBQuery, protocol.KindDBDisconnect:
		return "db"
	default:
		return "unknown"
	}
}

// targetOf extracts the endpoint an operation addresses, for metrics
// cardinality and tracing.
func targetOf(op protocol.Operation) string {
	switch op.Kind {
	case protocol.KindHTTPRequest:
		if op.HTTP != nil {
			return op.HTTP.URL
		}
	case protocol.KindWSConnect, protocol.KindWSSend, protocol.KindWSClose:
		if op.WS != nil {
			return op.WS.URL
		}
	case protocol.KindTCPConnect, protocol.KindTCPSend, protocol.KindTCPReceive, protocol.KindTCPDisconnect:
		if op.TCP != nil {
			return hostPort(op.TCP.Host, op.TCP.Port)
		}
	case protocol.KindUDPCreateEndpoint, protocol.KindUDPSend, protocol.KindUDPReceive, protocol.KindUDPCloseEndpoint:
		if op.UDP != nil {
			return hostPort(op.UDP.Host, op.UDP.Port)
		}
	case protocol.KindMQTTConnect, protocol.KindMQTTPublish, protocol.KindMQTTSubscribe, protocol.KindMQTTUnsubscribe, protocol.KindMQTTDisconnect:
		if op.MQTT != nil {
			return hostPort(op.MQTT.Broker, op.MQTT.Port)
		}
	case protocol.KindDBConnect, protocol.KindDBQuery, protocol.KindDBDisconnect:
		if op.DB != nil {
			return op.DB.ConnString
		}
	}
	return ""
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return host + ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
