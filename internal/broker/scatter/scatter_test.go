package scatter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"querybroker/internal/broker/model"
	"querybroker/internal/broker/wire"
)

type fakeTransport struct {
	mu      sync.Mutex
	calls   map[model.ServerInstance]int
	delay   time.Duration
	failFor map[model.ServerInstance]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: make(map[model.ServerInstance]int), failFor: make(map[model.ServerInstance]error)}
}

func (f *fakeTransport) Send(ctx context.Context, server model.ServerInstance, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls[server]++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.failFor[server]; ok {
		return nil, err
	}
	return payload, nil
}

func testQuery() *model.BrokerRequest {
	return &model.BrokerRequest{Table: "events_OFFLINE", Selection: &model.Selection{Columns: []string{"a"}, Size: 5}}
}

func TestDispatch_AllServersSucceed(t *testing.T) {
	transport := newFakeTransport()
	assignment := map[model.ServerInstance]model.SegmentIDSet{
		{Hostname: "s1", Port: 8000}: model.NewSegmentIDSet("seg0"),
		{Hostname: "s2", Port: 8000}: model.NewSegmentIDSet("seg1"),
	}

	future := Dispatch(context.Background(), testQuery(), assignment, transport, Options{RequestID: 1, BrokerID: "b1"})
	results := future.Await(context.Background(), time.Second)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for server, r := range results {
		if r.Err != nil {
			t.Errorf("server %v unexpected error: %v", server, r.Err)
		}
		if _, err := wire.DecodeInstanceRequest(r.Payload); err != nil {
			t.Errorf("server %v payload did not decode: %v", server, err)
		}
	}
}

func TestDispatch_PartialFailure(t *testing.T) {
	bad := model.ServerInstance{Hostname: "s2", Port: 8000}
	transport := newFakeTransport()
	transport.failFor[bad] = errors.New("connection refused")

	assignment := map[model.ServerInstance]model.SegmentIDSet{
		{Hostname: "s1", Port: 8000}: model.NewSegmentIDSet("seg0"),
		bad:                          model.NewSegmentIDSet("seg1"),
	}

	future := Dispatch(context.Background(), testQuery(), assignment, transport, Options{})
	results := future.Await(context.Background(), time.Second)

	if results[bad].Err == nil {
		t.Error("expected failing server to carry an error")
	}
	good := model.ServerInstance{Hostname: "s1", Port: 8000}
	if results[good].Err != nil {
		t.Errorf("expected good server to succeed, got %v", results[good].Err)
	}
}

func TestDispatch_DeadlineStopsWaiting(t *testing.T) {
	transport := newFakeTransport()
	transport.delay = 200 * time.Millisecond

	assignment := map[model.ServerInstance]model.SegmentIDSet{
		{Hostname: "s1", Port: 8000}: model.NewSegmentIDSet("seg0"),
	}

	future := Dispatch(context.Background(), testQuery(), assignment, transport, Options{})
	start := time.Now()
	results := future.Await(context.Background(), 20*time.Millisecond)
	elapsed := time.Since(start)

	if elapsed > 150*time.Millisecond {
		t.Errorf("Await should have returned at the deadline, took %v", elapsed)
	}
	if len(results) != 0 {
		t.Errorf("expected no results yet, got %d", len(results))
	}
}

func TestDispatch_EmptyAssignmentCompletesImmediately(t *testing.T) {
	future := Dispatch(context.Background(), testQuery(), nil, newFakeTransport(), Options{})
	results := future.Await(context.Background(), time.Second)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestCompositeFuture_ResponseTimesRecorded(t *testing.T) {
	transport := newFakeTransport()
	assignment := map[model.ServerInstance]model.SegmentIDSet{
		{Hostname: "s1", Port: 8000}: model.NewSegmentIDSet("seg0"),
	}

	future := Dispatch(context.Background(), testQuery(), assignment, transport, Options{})
	future.Await(context.Background(), time.Second)

	times := future.ResponseTimes()
	if len(times) != 1 {
		t.Fatalf("expected 1 response time entry, got %d", len(times))
	}
}

func TestDispatch_OneGoroutinePerServerNotPerSegment(t *testing.T) {
	transport := newFakeTransport()
	assignment := map[model.ServerInstance]model.SegmentIDSet{
		{Hostname: "s1", Port: 8000}: model.NewSegmentIDSet("seg0", "seg1", "seg2", "seg3"),
	}

	future := Dispatch(context.Background(), testQuery(), assignment, transport, Options{})
	future.Await(context.Background(), time.Second)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.calls[model.ServerInstance{Hostname: "s1", Port: 8000}] != 1 {
		t.Errorf("expected exactly 1 Send call for the server regardless of segment count")
	}
}
