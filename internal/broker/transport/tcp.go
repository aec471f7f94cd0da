// Package transport implements a concrete on-wire RPC transport for the
// Scatter Dispatcher (C6): a plain length-prefixed TCP connection per
// server, reusing the same frame shape internal/broker/wire already writes,
// so a payload built by wire.EncodeInstanceRequest travels unmodified and a
// response frame decodes unmodified with wire.DecodeDataTable. Per spec
// section 1, the on-wire RPC transport is an external collaborator the core
// only needs an interface for (scatter.Transport); this is one concrete
// implementation of that interface, not a requirement of the core itself.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"querybroker/internal/broker/model"
)

// TCPTransport sends a framed payload to a server over a pooled TCP
// connection and reads back one framed response. Connections are
// per-server and reused across calls; a connection that errors is evicted
// from the pool so the next call redials, mirroring the teacher's
// connection-map-guarded-by-mutex shape in clients/manager.go.
type TCPTransport struct {
	mu          sync.Mutex
	conns       map[model.ServerInstance]net.Conn
	dialTimeout time.Duration
}

// NewTCPTransport builds a transport that dials servers with dialTimeout.
func NewTCPTransport(dialTimeout time.Duration) *TCPTransport {
	return &TCPTransport{
		conns:       make(map[model.ServerInstance]net.Conn),
		dialTimeout: dialTimeout,
	}
}

// Send writes payload (already length-prefixed by the wire package) to
// server and returns the server's length-prefixed response frame in full,
// ready for wire.DecodeDataTable.
func (t *TCPTransport) Send(ctx context.Context, server model.ServerInstance, payload []byte) ([]byte, error) {
	conn, err := t.connFor(ctx, server)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(payload); err != nil {
		t.evict(server)
		return nil, fmt.Errorf("transport: write to %s: %w", server, err)
	}

	resp, err := readFrame(conn)
	if err != nil {
		t.evict(server)
		return nil, fmt.Errorf("transport: read from %s: %w", server, err)
	}

	return resp, nil
}

func (t *TCPTransport) connFor(ctx context.Context, server model.ServerInstance) (net.Conn, error) {
	t.mu.Lock()
	conn, ok := t.conns[server]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", server.Hostname, server.Port))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", server, err)
	}

	t.mu.Lock()
	t.conns[server] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *TCPTransport) evict(server model.ServerInstance) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[server]; ok {
		_ = conn.Close()
		delete(t.conns, server)
	}
}

// Close closes every pooled connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var lastErr error
	for server, conn := range t.conns {
		if err := conn.Close(); err != nil {
			lastErr = err
		}
		delete(t.conns, server)
	}
	return lastErr
}

// readFrame reads a 4-byte big-endian length header followed by that many
// bytes, returning the header and payload together so the result is itself
// a valid frame for wire.DecodeDataTable.
func readFrame(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)

	var header [4]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}

	framed := make([]byte, 4+len(body))
	copy(framed, header[:])
	copy(framed[4:], body)
	return framed, nil
}
