package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"querybroker/internal/broker/model"
)

// echoServer accepts one connection, reads one frame, and writes back a
// fixed response frame, to exercise TCPTransport.Send end to end.
func echoServer(t *testing.T, response []byte) model.ServerInstance {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var header [4]byte
		if _, err := readFullFrom(conn, header[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header[:])
		body := make([]byte, n)
		if _, err := readFullFrom(conn, body); err != nil {
			return
		}

		_, _ = conn.Write(response)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return model.ServerInstance{Hostname: "127.0.0.1", Port: addr.Port}
}

func readFullFrom(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func frameOf(body []byte) []byte {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	return append(header, body...)
}

func TestTCPTransport_SendReceivesFramedResponse(t *testing.T) {
	response := frameOf([]byte("hello"))
	server := echoServer(t, response)

	tr := NewTCPTransport(2 * time.Second)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := tr.Send(ctx, server, frameOf([]byte("ping")))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != string(response) {
		t.Errorf("got %q, want %q", got, response)
	}
}

func TestTCPTransport_ReusesConnectionAcrossCalls(t *testing.T) {
	var accepts int
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	response := frameOf([]byte("ok"))
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepts++
			go func(c net.Conn) {
				defer c.Close()
				for {
					var header [4]byte
					if _, err := readFullFrom(c, header[:]); err != nil {
						return
					}
					n := binary.BigEndian.Uint32(header[:])
					body := make([]byte, n)
					if _, err := readFullFrom(c, body); err != nil {
						return
					}
					if _, err := c.Write(response); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	server := model.ServerInstance{Hostname: "127.0.0.1", Port: addr.Port}

	tr := NewTCPTransport(2 * time.Second)
	defer tr.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := tr.Send(ctx, server, frameOf([]byte("ping"))); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}

	if accepts != 1 {
		t.Errorf("expected 1 accepted connection reused across calls, got %d", accepts)
	}
}

func TestTCPTransport_DialFailureReturnsError(t *testing.T) {
	tr := NewTCPTransport(200 * time.Millisecond)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := tr.Send(ctx, model.ServerInstance{Hostname: "127.0.0.1", Port: 1}, frameOf([]byte("x")))
	if err == nil {
		t.Fatal("expected a dial error for an unreachable port")
	}
}
