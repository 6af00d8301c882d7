// Package wsdriver implements the WebSocket protocol driver on top of
// github.com/gorilla/websocket.
package wsdriver

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

// conn wraps a gorilla websocket connection as a registry.Handle.
type conn struct {
	ws *websocket.Conn
}

func (c *conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// Driver is the WebSocket protocol driver.
type Driver struct {
	dialer *websocket.Dialer
}

func New() *Driver {
	return &Driver{dialer: websocket.DefaultDialer}
}

func (d *Driver) Execute(ctx context.Context, reg *registry.Registry, op protocol.Operation, deadline time.Time) (*protocol.Outcome, error) {
	if op.WS == nil {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
	p := op.WS
	key := registry.Key{Kind: registry.KindWS, EndpointKey: p.URL}

	switch op.Kind {
	case protocol.KindWSConnect:
		start := time.Now()
		var negotiated string
		h, err := reg.GetOrCreate(key, func() (registry.Handle, error) {
			wsConn, resp, dialErr := d.dialer.DialContext(ctx, p.URL, nil)
			if dialErr != nil {
				return nil, dialErr
			}
			if resp != nil {
				negotiated = resp.Header.Get("Sec-WebSocket-Protocol")
			}
			return &conn{ws: wsConn}, nil
		})
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionRefused}, nil
		}
		_ = h
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			ProtocolData:   map[string]any{"subprotocol": negotiated},
		}, nil

	case protocol.KindWSSend:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoConnection}, nil
		}
		c := h.(*conn)
		start := time.Now()
		err := c.ws.WriteMessage(websocket.TextMessage, []byte(p.Message))
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			_ = reg.Remove(key)
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			ProtocolData:   map[string]any{"bytes_out": int64(len(p.Message))},
		}, nil

	case protocol.KindWSClose:
		if err := reg.Remove(key); err != nil {
			return &protocol.Outcome{Success: false, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{Success: true}, nil

	default:
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
}
