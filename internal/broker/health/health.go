// Package health fans a liveness probe out across query servers the way
// the routing provider last told the broker about them, so a server that
// has gone dark can be excluded from the next Candidate Server Resolver
// pass before a query is scattered to it and times out.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"querybroker/internal/broker/model"
)

// Status mirrors grpc_health_v1's coarse health states, collapsed to the
// three the broker actually acts on.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusUnknown   Status = "UNKNOWN"
)

// ServerHealth is one server's probe outcome.
type ServerHealth struct {
	Server    model.ServerInstance
	Status    Status
	LatencyMs int64
	Error     string
}

// Checker probes query servers over gRPC's standard health-checking
// protocol, reusing one connection per server across calls the way the
// teacher's client Manager reuses its backend-service connections.
type Checker struct {
	mu      sync.Mutex
	conns   map[model.ServerInstance]*grpc.ClientConn
	timeout time.Duration
}

// NewChecker builds a Checker; timeout bounds each individual server probe.
func NewChecker(timeout time.Duration) *Checker {
	return &Checker{
		conns:   make(map[model.ServerInstance]*grpc.ClientConn),
		timeout: timeout,
	}
}

// CheckAll probes every server in servers concurrently, one goroutine per
// server, and returns once all probes have completed or been cancelled via
// ctx — the same fan-out-then-WaitGroup shape the teacher's
// Manager.CheckHealth uses across its backend services.
func (c *Checker) CheckAll(ctx context.Context, servers []model.ServerInstance) map[model.ServerInstance]*ServerHealth {
	results := make(map[model.ServerInstance]*ServerHealth, len(servers))

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, server := range servers {
		wg.Add(1)
		go func(server model.ServerInstance) {
			defer wg.Done()
			health := c.check(ctx, server)

			mu.Lock()
			results[server] = health
			mu.Unlock()
		}(server)
	}

	wg.Wait()
	return results
}

func (c *Checker) check(ctx context.Context, server model.ServerInstance) *ServerHealth {
	health := &ServerHealth{Server: server}

	conn, err := c.connFor(server)
	if err != nil {
		health.Status = StatusUnknown
		health.Error = err.Error()
		return health
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client := grpc_health_v1.NewHealthClient(conn)

	start := time.Now()
	resp, err := client.Check(checkCtx, &grpc_health_v1.HealthCheckRequest{})
	health.LatencyMs = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		health.Status = StatusUnhealthy
		health.Error = err.Error()
	case resp.Status == grpc_health_v1.HealthCheckResponse_SERVING:
		health.Status = StatusHealthy
	default:
		health.Status = StatusUnhealthy
		health.Error = resp.Status.String()
	}

	return health
}

func (c *Checker) connFor(server model.ServerInstance) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[server]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(
		fmt.Sprintf("%s:%d", server.Hostname, server.Port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("health: dial %s: %w", server, err)
	}

	c.conns[server] = conn
	return conn, nil
}

// Snapshot holds the most recent liveness view behind an atomic pointer so
// the query hot path (C4/C5) can consult it without blocking: per spec
// section 5, C1-C5 and C8-C9 are CPU-bound and must not block on I/O, so
// liveness is refreshed out-of-band by RunLoop and only read here.
type Snapshot struct {
	statuses atomic.Pointer[map[model.ServerInstance]Status]
}

// NewSnapshot builds an empty snapshot; IsHealthy defaults to true for any
// server not yet probed, so a cold broker does not exclude servers it has
// simply not checked yet.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	empty := make(map[model.ServerInstance]Status)
	s.statuses.Store(&empty)
	return s
}

// IsHealthy reports whether server's last known status was HEALTHY. A
// server with no recorded probe is treated as healthy.
func (s *Snapshot) IsHealthy(server model.ServerInstance) bool {
	statuses := *s.statuses.Load()
	status, known := statuses[server]
	return !known || status == StatusHealthy
}

// Update replaces the snapshot's view with results from a completed CheckAll.
func (s *Snapshot) Update(results map[model.ServerInstance]*ServerHealth) {
	statuses := make(map[model.ServerInstance]Status, len(results))
	for server, h := range results {
		statuses[server] = h.Status
	}
	s.statuses.Store(&statuses)
}

// RunLoop probes servers on a fixed interval until ctx is cancelled,
// updating snapshot after each round. servers is called fresh each tick so
// the probed set tracks whatever the routing provider currently publishes.
func RunLoop(ctx context.Context, checker *Checker, snapshot *Snapshot, servers func() []model.ServerInstance, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot.Update(checker.CheckAll(ctx, servers()))
		}
	}
}

// Close closes every cached connection.
func (c *Checker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for server, conn := range c.conns {
		if err := conn.Close(); err != nil {
			lastErr = err
		}
		delete(c.conns, server)
	}
	return lastErr
}
