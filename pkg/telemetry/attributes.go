package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys attached to broker query spans.
const (
	// Query identity and shape.
	AttrQueryTable     = "query.table"
	AttrQueryFormat    = "query.format"
	AttrQueryRequestID = "query.request_id"
	AttrQueryState     = "query.state"

	// Routing/scatter.
	AttrPhysicalTables    = "routing.physical_tables"
	AttrSegmentGroups     = "routing.segment_groups"
	AttrServersScattered  = "scatter.servers"
	AttrSegmentsScattered = "scatter.segments"

	// Gather/reduce outcome.
	AttrRowsReturned   = "reduce.rows_returned"
	AttrExceptionCount = "reduce.exception_count"
)

// QueryAttributes returns the attributes identifying one broker request.
func QueryAttributes(requestID int64, table, format string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrQueryRequestID, requestID),
		attribute.String(AttrQueryTable, table),
		attribute.String(AttrQueryFormat, format),
	}
}

// RoutingAttributes returns the attributes describing C4's routing fan-out
// for one request: how many physical tables (1 for a plain table, 2 for a
// hybrid offline+realtime query) and how many segment groups were resolved.
func RoutingAttributes(physicalTables, segmentGroups int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrPhysicalTables, physicalTables),
		attribute.Int(AttrSegmentGroups, segmentGroups),
	}
}

// ScatterAttributes returns the attributes describing C6's dispatch: how
// many servers and segments were scattered to.
func ScatterAttributes(servers, segments int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrServersScattered, servers),
		attribute.Int(AttrSegmentsScattered, segments),
	}
}

// ReduceAttributes returns the attributes describing C9's outcome.
func ReduceAttributes(rowsReturned, exceptionCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrRowsReturned, rowsReturned),
		attribute.Int(AttrExceptionCount, exceptionCount),
	}
}
