// Package deserialize implements the broker's Response Deserializer (C8):
// turning each server's binary payload into a typed DataTable, dropping
// and flagging any shard whose bytes don't decode.
package deserialize

import (
	"time"

	"querybroker/internal/broker/model"
	"querybroker/internal/broker/wire"
	"querybroker/pkg/apperror"
)

// Result is C8's output: decoded tables keyed by (possibly re-stamped)
// server identity, plus exceptions for shards that failed to decode.
type Result struct {
	Tables     map[model.ServerInstance]*model.DataTable
	Exceptions []model.ProcessingException
}

// Deserialize decodes payloads into DataTables. sequence re-stamps every
// server identity's Sequence field to seq, so that in federated (hybrid)
// mode the offline half (seq=0) and realtime half (seq=1) of one physical
// server are distinguishable in C9's reduction input; pass 0 for a
// non-federated (single-table) query.
func Deserialize(payloads map[model.ServerInstance][]byte, sequence int) Result {
	result := Result{Tables: make(map[model.ServerInstance]*model.DataTable, len(payloads))}

	for server, payload := range payloads {
		table, err := wire.DecodeDataTable(payload)
		if err != nil {
			result.Exceptions = append(result.Exceptions, model.ProcessingException{
				ErrorCode: apperror.CodeInternalError.WireCode(),
				Message:   "failed to deserialize response from " + server.String() + ": " + err.Error(),
			})
			continue
		}

		stamped := server
		stamped.Sequence = sequence
		result.Tables[stamped] = table
	}

	return result
}

// ResponseTimesFor rekeys a gather-collector response-time map onto the
// same re-stamped server identities Deserialize produces, so C9's
// observability output lines up with the tables it actually reduced.
func ResponseTimesFor(times map[model.ServerInstance]time.Duration, sequence int) map[model.ServerInstance]time.Duration {
	rekeyed := make(map[model.ServerInstance]time.Duration, len(times))
	for server, d := range times {
		stamped := server
		stamped.Sequence = sequence
		rekeyed[stamped] = d
	}
	return rekeyed
}
