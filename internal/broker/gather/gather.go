// Package gather implements the broker's Gather Collector (C7): it awaits a
// scatter.CompositeFuture up to the per-request deadline and classifies
// each server's outcome into a success payload or a ProcessingException.
package gather

import (
	"context"
	"time"

	"querybroker/internal/broker/model"
	"querybroker/internal/broker/scatter"
	"querybroker/pkg/apperror"
)

// Outcome is C7's output: the raw payloads that arrived in time, the
// exceptions recorded for servers that failed or never answered, and the
// per-server response times for observability.
type Outcome struct {
	Payloads      map[model.ServerInstance][]byte
	Exceptions    []model.ProcessingException
	ResponseTimes map[model.ServerInstance]time.Duration
}

// Collect awaits future for at most timeout and classifies every server
// that was expected to answer. A server with no recorded result by the
// deadline is treated as a timeout, not silently dropped: per spec 4.7,
// queries never fail solely because a subset of shards failed, but the
// caller must still be told which shards are missing.
func Collect(
	ctx context.Context,
	future *scatter.CompositeFuture,
	expected []model.ServerInstance,
	timeout time.Duration,
) Outcome {
	results := future.Await(ctx, timeout)

	outcome := Outcome{
		Payloads:      make(map[model.ServerInstance][]byte, len(results)),
		ResponseTimes: future.ResponseTimes(),
	}

	for _, server := range expected {
		r, ok := results[server]
		switch {
		case !ok:
			outcome.Exceptions = append(outcome.Exceptions, model.ProcessingException{
				ErrorCode: apperror.CodeBrokerGatherError.WireCode(),
				Message:   "server " + server.String() + " did not respond within deadline",
			})
		case r.Err != nil:
			outcome.Exceptions = append(outcome.Exceptions, model.ProcessingException{
				ErrorCode: apperror.CodeBrokerGatherError.WireCode(),
				Message:   "server " + server.String() + " failed: " + r.Err.Error(),
			})
		default:
			outcome.Payloads[server] = r.Payload
		}
	}

	return outcome
}
