// Package tcpdriver implements the raw TCP protocol driver.
package tcpdriver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

const receiveBufferSize = 4096

type conn struct {
	nc net.Conn
}

func (c *conn) Close() error { return c.nc.Close() }

// Driver is the raw TCP protocol driver.
type Driver struct {
	dialer *net.Dialer
}

func New() *Driver {
	return &Driver{dialer: &net.Dialer{}}
}

func (d *Driver) Execute(ctx context.Context, reg *registry.Registry, op protocol.Operation, deadline time.Time) (*protocol.Outcome, error) {
	if op.TCP == nil {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
	p := op.TCP
	addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
	key := registry.Key{Kind: registry.KindTCP, EndpointKey: addr}

	switch op.Kind {
	case protocol.KindTCPConnect:
		start := time.Now()
		dialCtx := ctx
		if !deadline.IsZero() {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
		_, err := reg.GetOrCreate(key, func() (registry.Handle, error) {
			nc, dialErr := d.dialer.DialContext(dialCtx, "tcp", addr)
			if dialErr != nil {
				return nil, dialErr
			}
			return &conn{nc: nc}, nil
		})
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: classifyDialError(err)}, nil
		}
		return &protocol.Outcome{Success: true, ResponseTimeUs: elapsed}, nil

	case protocol.KindTCPSend:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoConnection}, nil
		}
		c := h.(*conn)
		if !deadline.IsZero() {
			_ = c.nc.SetWriteDeadline(deadline)
		}
		start := time.Now()
		n, err := c.nc.Write(p.Data)
		elapsed := time.Since(start).Microseconds()
		if err != nil || n != len(p.Data) {
			_ = reg.Remove(key)
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			ProtocolData:   map[string]any{"bytes_out": int64(n)},
		}, nil

	case protocol.KindTCPReceive:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoConnection}, nil
		}
		c := h.(*conn)
		if !deadline.IsZero() {
			_ = c.nc.SetReadDeadline(deadline)
		}
		buf := make([]byte, receiveBufferSize)
		start := time.Now()
		n, err := c.nc.Read(buf)
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrTimeout}, nil
			}
			_ = reg.Remove(key)
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			Body:           buf[:n],
			ProtocolData:   map[string]any{"bytes_in": int64(n)},
		}, nil

	case protocol.KindTCPDisconnect:
		if err := reg.Remove(key); err != nil {
			return &protocol.Outcome{Success: false, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{Success: true}, nil

	default:
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
}

func classifyDialError(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return protocol.ErrTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return protocol.ErrResolveFailed
	}
	return protocol.ErrConnectionRefused
}
