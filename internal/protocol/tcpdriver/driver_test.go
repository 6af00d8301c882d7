package tcpdriver

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/protocol"
	"github.com/ecamuto/LoadSpiker/internal/registry"
)

func startEchoServer(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start echo server: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestTCPEchoRoundTrip(t *testing.T) {
	host, port := startEchoServer(t)
	d := New()
	reg := registry.New()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)

	connectOp := protocol.Operation{Kind: protocol.KindTCPConnect, TCP: &protocol.TCPParams{Host: host, Port: port}}
	outcome, err := d.Execute(ctx, reg, connectOp, deadline)
	if err != nil || !outcome.Success {
		t.Fatalf("connect failed: outcome=%+v err=%v", outcome, err)
	}

	sendOp := protocol.Operation{Kind: protocol.KindTCPSend, TCP: &protocol.TCPParams{Host: host, Port: port, Data: []byte("ping")}}
	outcome, err = d.Execute(ctx, reg, sendOp, deadline)
	if err != nil || !outcome.Success {
		t.Fatalf("send failed: outcome=%+v err=%v", outcome, err)
	}

	recvOp := protocol.Operation{Kind: protocol.KindTCPReceive, TCP: &protocol.TCPParams{Host: host, Port: port}}
	outcome, err = d.Execute(ctx, reg, recvOp, deadline)
	if err != nil || !outcome.Success {
		t.Fatalf("receive failed: outcome=%+v err=%v", outcome, err)
	}
	if string(outcome.Body) != "ping" {
		t.Fatalf("expected echoed body 'ping', got %q", outcome.Body)
	}

	disconnectOp := protocol.Operation{Kind: protocol.KindTCPDisconnect, TCP: &protocol.TCPParams{Host: host, Port: port}}
	outcome, err = d.Execute(ctx, reg, disconnectOp, deadline)
	if err != nil || !outcome.Success {
		t.Fatalf("disconnect failed: outcome=%+v err=%v", outcome, err)
	}

	// After disconnect, Send without reconnect must fail with no_connection.
	outcome, err = d.Execute(ctx, reg, sendOp, deadline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success {
		t.Fatalf("expected failure sending on a disconnected key")
	}
	if outcome.Error != protocol.ErrNoConnection {
		t.Fatalf("expected no_connection error, got %q", outcome.Error)
	}
}

func TestTCPReceiveWithoutConnectFailsWithNoConnection(t *testing.T) {
	d := New()
	reg := registry.New()

	op := protocol.Operation{Kind: protocol.KindTCPReceive, TCP: &protocol.TCPParams{Host: "127.0.0.1", Port: 1}}
	outcome, err := d.Execute(context.Background(), reg, op, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success || outcome.Error != protocol.ErrNoConnection {
		t.Fatalf("expected no_connection failure, got %+v", outcome)
	}
}

func TestTCPConnectRefusedIsClassified(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // nothing listens here now

	d := New()
	reg := registry.New()
	op := protocol.Operation{Kind: protocol.KindTCPConnect, TCP: &protocol.TCPParams{Host: "127.0.0.1", Port: port}}
	outcome, err := d.Execute(context.Background(), reg, op, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success {
		t.Fatalf("expected connection refused on a closed port %s", strconv.Itoa(port))
	}
}
