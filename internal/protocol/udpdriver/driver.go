// Package udpdriver implements the raw UDP protocol driver.
package udpdriver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

type endpoint struct {
	pc   net.PacketConn
	addr *net.UDPAddr
}

func (e *endpoint) Close() error { return e.pc.Close() }

// Driver is the raw UDP protocol driver.
type Driver struct{}

func New() *Driver { return &Driver{} }

func (d *Driver) Execute(ctx context.Context, reg *registry.Registry, op protocol.Operation, deadline time.Time) (*protocol.Outcome, error) {
	if op.UDP == nil {
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
	p := op.UDP
	remote := fmt.Sprintf("%s:%d", p.Host, p.Port)
	key := registry.Key{Kind: registry.KindUDP, EndpointKey: remote}

	switch op.Kind {
	case protocol.KindUDPCreateEndpoint:
		start := time.Now()
		_, err := reg.GetOrCreate(key, func() (registry.Handle, error) {
			raddr, resolveErr := net.ResolveUDPAddr("udp", remote)
			if resolveErr != nil {
				return nil, resolveErr
			}
			pc, listenErr := net.ListenUDP("udp", &net.UDPAddr{})
			if listenErr != nil {
				return nil, listenErr
			}
			return &endpoint{pc: pc, addr: raddr}, nil
		})
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrResolveFailed}, nil
		}
		return &protocol.Outcome{Success: true, ResponseTimeUs: elapsed}, nil

	case protocol.KindUDPSend:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoEndpoint}, nil
		}
		e := h.(*endpoint)
		if !deadline.IsZero() {
			_ = e.pc.SetWriteDeadline(deadline)
		}
		start := time.Now()
		n, err := e.pc.WriteTo(p.Data, e.addr)
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionLost}, nil
		}
		// A zero-length datagram send is a success, not an edge-case
		// failure: n==0 and len(p.Data)==0 both hold and the write
		// above did not error.
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			ProtocolData:   map[string]any{"bytes_out": int64(n)},
		}, nil

	case protocol.KindUDPReceive:
		h, ok := reg.Get(key)
		if !ok {
			return &protocol.Outcome{Success: false, Error: protocol.ErrNoEndpoint}, nil
		}
		e := h.(*endpoint)
		if !deadline.IsZero() {
			_ = e.pc.SetReadDeadline(deadline)
		}
		buf := make([]byte, 4096)
		start := time.Now()
		n, _, err := e.pc.ReadFrom(buf)
		elapsed := time.Since(start).Microseconds()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrTimeout}, nil
			}
			return &protocol.Outcome{Success: false, ResponseTimeUs: elapsed, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{
			Success:        true,
			ResponseTimeUs: elapsed,
			Body:           buf[:n],
			ProtocolData:   map[string]any{"bytes_in": int64(n)},
		}, nil

	case protocol.KindUDPCloseEndpoint:
		if err := reg.Remove(key); err != nil {
			return &protocol.Outcome{Success: false, Error: protocol.ErrConnectionLost}, nil
		}
		return &protocol.Outcome{Success: true}, nil

	default:
		return &protocol.Outcome{Success: false, Error: protocol.ErrInvalidInput}, nil
	}
}
