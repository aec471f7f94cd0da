// Package scatter implements the broker's Scatter Dispatcher (C6): for each
// server chosen by the Replica Selector, it builds an InstanceRequest,
// serializes it, and sends it asynchronously through the transport,
// returning a CompositeFuture the Gather Collector (C7) awaits.
package scatter

import (
	"context"
	"time"

	"querybroker/internal/broker/model"
	"querybroker/internal/broker/wire"
)

// Transport is the on-wire RPC contract C6 needs (spec section 6): send one
// serialized InstanceRequest to a server and return its raw response bytes.
// The transport itself — connection pooling, retries, protocol — is an
// external collaborator out of scope for this core.
type Transport interface {
	Send(ctx context.Context, server model.ServerInstance, payload []byte) ([]byte, error)
}

// Options configures one Dispatch call.
type Options struct {
	BrokerID     string
	RequestID    int64
	TraceEnabled bool

	// SpeculativeReplicas, when non-empty, is sent the same segment
	// request as its primary server after SpeculativeDelay, racing the
	// two and keeping whichever answers first. Defaults to disabled
	// (nil) per spec 4.6 ("count = 0").
	SpeculativeReplicas map[model.ServerInstance]model.ServerInstance
	SpeculativeDelay    time.Duration
}

// Dispatch sends one InstanceRequest per server in assignment, each on its
// own goroutine (one per server, not per segment, per spec 9), and returns
// immediately with a CompositeFuture the caller awaits with its own
// deadline.
func Dispatch(
	ctx context.Context,
	query *model.BrokerRequest,
	assignment map[model.ServerInstance]model.SegmentIDSet,
	transport Transport,
	opts Options,
) *CompositeFuture {
	callCtx, cancel := context.WithCancel(ctx)
	future := newCompositeFuture(len(assignment), cancel)

	for server, segments := range assignment {
		go dispatchOne(callCtx, server, segments, query, transport, opts, future)
	}

	return future
}

func dispatchOne(
	ctx context.Context,
	server model.ServerInstance,
	segments model.SegmentIDSet,
	query *model.BrokerRequest,
	transport Transport,
	opts Options,
	future *CompositeFuture,
) {
	payload := wire.EncodeInstanceRequest(&model.InstanceRequest{
		RequestID:    opts.RequestID,
		BrokerID:     opts.BrokerID,
		TraceEnabled: opts.TraceEnabled,
		Query:        query,
		SegmentNames: segments.Names(),
	})

	start := time.Now()

	if replica, ok := opts.SpeculativeReplicas[server]; ok && opts.SpeculativeDelay > 0 {
		future.complete(raceSpeculative(ctx, server, replica, payload, transport, opts.SpeculativeDelay, start))
		return
	}

	resp, err := transport.Send(ctx, server, payload)
	future.complete(Result{Server: server, Payload: resp, Err: err, Duration: time.Since(start)})
}

// raceSpeculative sends to server first, then to the speculative replica
// after delay if server has not yet answered, and keeps whichever
// terminates first. This is the optional speculative duplication of spec
// 4.6; it defaults to disabled (Options.SpeculativeReplicas nil).
func raceSpeculative(
	ctx context.Context,
	server, replica model.ServerInstance,
	payload []byte,
	transport Transport,
	delay time.Duration,
	start time.Time,
) Result {
	type outcome struct {
		payload []byte
		err     error
	}

	primary := make(chan outcome, 1)
	go func() {
		resp, err := transport.Send(ctx, server, payload)
		primary <- outcome{resp, err}
	}()

	select {
	case o := <-primary:
		return Result{Server: server, Payload: o.payload, Err: o.err, Duration: time.Since(start)}
	case <-time.After(delay):
	}

	speculative := make(chan outcome, 1)
	go func() {
		resp, err := transport.Send(ctx, replica, payload)
		speculative <- outcome{resp, err}
	}()

	select {
	case o := <-primary:
		return Result{Server: server, Payload: o.payload, Err: o.err, Duration: time.Since(start)}
	case o := <-speculative:
		return Result{Server: replica, Payload: o.payload, Err: o.err, Duration: time.Since(start)}
	}
}
