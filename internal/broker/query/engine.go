// Package query implements the broker's orchestrator: it drives one
// submitted request through C1-C9 in order, emitting phase timings to the
// metrics sink, a trace span per phase, and an audit entry per lifecycle
// state it reaches, the way the teacher's GatewayHandler delegates one inbound call
// across its typed sub-handlers and records the outcome.
package query

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"querybroker/internal/broker/deserialize"
	"querybroker/internal/broker/gather"
	"querybroker/internal/broker/health"
	"querybroker/internal/broker/model"
	"querybroker/internal/broker/reduce"
	"querybroker/internal/broker/replica"
	"querybroker/internal/broker/routing"
	"querybroker/internal/broker/scatter"
	"querybroker/internal/broker/splitter"
	"querybroker/internal/broker/tablematch"
	"querybroker/internal/broker/validator"
	"querybroker/pkg/apperror"
	"querybroker/pkg/audit"
	"querybroker/pkg/config"
	"querybroker/pkg/logger"
	"querybroker/pkg/metrics"
	"querybroker/pkg/telemetry"
)

// Compiler turns a query-language string into a structured BrokerRequest.
// Per spec section 1, the query-language compiler (C0) is an external
// collaborator the core only needs a contract for; engine.Execute itself
// never sees raw query text.
type Compiler interface {
	Compile(ctx context.Context, pql string, trace bool, debugOptions map[string]string) (*model.BrokerRequest, error)
}

// Engine wires C1-C9 together into one request pipeline.
type Engine struct {
	Existence       tablematch.Existence
	Routing         routing.Resolver
	Boundary        splitter.TimeBoundaryProvider
	ReplicaSelector replica.Selector
	Transport       scatter.Transport
	Health          *health.Snapshot // optional; nil means every server is treated as healthy

	Metrics *metrics.Metrics
	Audit   audit.Logger

	Broker config.BrokerConfig

	requestIDCursor atomic.Int64
}

// NewEngine builds an Engine from its dependencies. The first issued
// RequestID is broker.RequestIDSeed+1 (spec 3: "a fresh monotonically
// increasing requestId").
func NewEngine(
	existence tablematch.Existence,
	routingResolver routing.Resolver,
	boundary splitter.TimeBoundaryProvider,
	selector replica.Selector,
	transport scatter.Transport,
	healthSnapshot *health.Snapshot,
	m *metrics.Metrics,
	auditLogger audit.Logger,
	broker config.BrokerConfig,
) *Engine {
	e := &Engine{
		Existence:       existence,
		Routing:         routingResolver,
		Boundary:        boundary,
		ReplicaSelector: selector,
		Transport:       transport,
		Health:          healthSnapshot,
		Metrics:         m,
		Audit:           auditLogger,
		Broker:          broker,
	}
	e.requestIDCursor.Store(broker.RequestIDSeed)
	return e
}

// nextRequestID returns the next monotonically increasing request id.
func (e *Engine) nextRequestID() int64 {
	return e.requestIDCursor.Add(1)
}

// Execute drives req through C1-C9 and returns the merged response along
// with the last lifecycle state it reached. req.RequestID is overwritten with a
// freshly allocated one regardless of what the caller set.
func (e *Engine) Execute(ctx context.Context, req *model.BrokerRequest) (*model.BrokerResponse, model.QueryState) {
	start := time.Now()
	req.RequestID = e.nextRequestID()
	requestIDStr := strconv.FormatInt(req.RequestID, 10)

	ctx, end := telemetry.StartPhase(ctx, "broker.query.execute")
	defer end()
	telemetry.SetAttributes(ctx, telemetry.QueryAttributes(req.RequestID, req.Table, queryType(req))...)

	if e.Broker.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.Broker.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, state := e.run(ctx, req)
	resp.TimeUsedMs = time.Since(start).Milliseconds()

	e.recordOutcome(ctx, req, resp, state, requestIDStr, time.Since(start))
	return resp, state
}

func (e *Engine) run(ctx context.Context, req *model.BrokerRequest) (*model.BrokerResponse, model.QueryState) {
	// C1: Validate & Optimize.
	if resp, ok := e.validate(ctx, req); !ok {
		return resp, model.QueryStateValidateFailed
	}

	// C2: Table Matcher.
	physicalTables, resp, ok := e.matchTable(ctx, req)
	if !ok {
		return resp, model.QueryStateRouted
	}
	if len(physicalTables) == 0 {
		return model.Empty(), model.QueryStateReturned
	}

	// C3: Hybrid Request Splitter, when needed.
	subRequests, resp, ok := e.split(ctx, req, physicalTables)
	if !ok {
		return resp, model.QueryStateRouted
	}

	// C4 + C5 per sub-request: resolve candidates, assign replicas.
	assignment, resp, ok := e.route(ctx, subRequests)
	if !ok {
		return resp, model.QueryStateRouted
	}
	e.auditTransition(ctx, req, audit.ActionRouted)

	if len(assignment) == 0 {
		return model.Empty(), model.QueryStateReturned
	}

	// C6 + C7 + C8: scatter, gather, deserialize, one sub-request at a time
	// so each carries its own sequence stamp into C9's input.
	tables, exceptions := e.scatterGatherDeserialize(ctx, req, assignment)
	e.auditTransition(ctx, req, audit.ActionScattered)
	e.auditTransition(ctx, req, audit.ActionGathered)

	// C9: reduce.
	final := reduce.Reduce(req, tables, req.Trace)
	final.Exceptions = append(final.Exceptions, exceptions...)
	e.auditTransition(ctx, req, audit.ActionReduced)
	telemetry.SetAttributes(ctx, telemetry.ReduceAttributes(rowCount(final), len(final.Exceptions))...)

	return final, model.QueryStateReturned
}

func (e *Engine) validate(ctx context.Context, req *model.BrokerRequest) (*model.BrokerResponse, bool) {
	ctx, end := telemetry.StartPhase(ctx, "broker.query.validate")
	defer end()
	defer e.timePhase("validate", time.Now())

	if err := validator.Validate(req, e.Broker.ResponseLimit); err != nil {
		telemetry.SetError(ctx, err)
		resp := model.Empty()
		resp.AddException(apperror.Code(err).WireCode(), err.Error())
		e.auditTransition(ctx, req, audit.ActionValidateFailed)
		return resp, false
	}

	*req = *validator.Optimize(req)

	e.auditTransition(ctx, req, audit.ActionValidated)
	return nil, true
}

func (e *Engine) matchTable(ctx context.Context, req *model.BrokerRequest) ([]string, *model.BrokerResponse, bool) {
	ctx, end := telemetry.StartPhase(ctx, "broker.query.tablematch")
	defer end()
	defer e.timePhase("tablematch", time.Now())

	physicalTables, err := tablematch.Match(ctx, e.Existence, req.Table)
	if err != nil {
		telemetry.SetError(ctx, err)
		resp := model.Empty()
		resp.AddException(apperror.Code(err).WireCode(), err.Error())
		return nil, resp, false
	}
	return physicalTables, nil, true
}

func (e *Engine) split(ctx context.Context, req *model.BrokerRequest, physicalTables []string) ([]splitter.Result, *model.BrokerResponse, bool) {
	ctx, end := telemetry.StartPhase(ctx, "broker.query.split")
	defer end()
	defer e.timePhase("split", time.Now())

	results, missingBoundary, err := splitter.Split(ctx, req, physicalTables, e.Boundary)
	if err != nil {
		telemetry.SetError(ctx, err)
		resp := model.Empty()
		resp.AddException(apperror.Code(err).WireCode(), err.Error())
		return nil, resp, false
	}

	if missingBoundary {
		if e.Metrics != nil {
			e.Metrics.HybridTimeBoundaryMissingTotal.Inc()
		}
		telemetry.AddEvent(ctx, "time boundary unavailable")
	}

	return results, nil, true
}

// subAssignment pairs one sub-request with the servers C5 assigned to
// carry it, keyed by the sub-request's index so C8 can re-stamp server
// identities per the offline/realtime half they answered for.
type subAssignment struct {
	index   int
	request *model.BrokerRequest
	servers map[model.ServerInstance]model.SegmentIDSet
}

// route resolves C4 candidates and runs C5 replica assignment for every
// sub-request produced by C3.
func (e *Engine) route(ctx context.Context, subRequests []splitter.Result) ([]subAssignment, *model.BrokerResponse, bool) {
	ctx, end := telemetry.StartPhase(ctx, "broker.query.route")
	defer end()
	defer e.timePhase("route", time.Now())

	assignment := make([]subAssignment, 0, len(subRequests))

	for _, sub := range subRequests {
		groups, err := e.Routing.Resolve(ctx, sub.Request)
		if err != nil {
			telemetry.SetError(ctx, err)
			resp := model.Empty()
			resp.AddException(apperror.Code(err).WireCode(), err.Error())
			return nil, resp, false
		}

		groups = e.filterUnhealthy(groups)

		assigned, err := replica.Assign(e.ReplicaSelector, groups, sub.Request.HashKey)
		if err != nil {
			telemetry.SetError(ctx, err)
			resp := model.Empty()
			resp.AddException(apperror.Code(err).WireCode(), err.Error())
			return nil, resp, false
		}

		if e.Metrics != nil {
			segments := 0
			for _, set := range assigned {
				segments += len(set)
			}
			e.Metrics.RecordScatter(sub.Request.Table, len(assigned), segments)
		}

		assignment = append(assignment, subAssignment{index: sub.Index, request: sub.Request, servers: assigned})
	}

	segmentGroups := 0
	for _, a := range assignment {
		segmentGroups += len(a.servers)
	}
	telemetry.SetAttributes(ctx, telemetry.RoutingAttributes(len(subRequests), segmentGroups)...)

	return assignment, nil, true
}

// filterUnhealthy drops replicas the last health probe round marked
// unhealthy, unless doing so would empty a group's candidate list — a
// stale or unreachable health snapshot must never make a segment
// undispatchable that the routing provider still advertises.
func (e *Engine) filterUnhealthy(groups []model.SegmentGroup) []model.SegmentGroup {
	if e.Health == nil {
		return groups
	}

	filtered := make([]model.SegmentGroup, len(groups))
	for i, g := range groups {
		var healthy []model.ServerInstance
		for _, r := range g.Replicas {
			if e.Health.IsHealthy(r) {
				healthy = append(healthy, r)
			}
		}
		if len(healthy) == 0 {
			healthy = g.Replicas
		}
		filtered[i] = model.SegmentGroup{Replicas: healthy, Segments: g.Segments}
	}
	return filtered
}

// scatterGatherDeserialize runs C6-C8 for each sub-request and merges the
// resulting DataTables and exceptions into one set for C9. Sub-requests
// are handled one after another: each is dispatched, awaited and decoded
// before the next is dispatched, so a slow offline half of a hybrid query
// delays the dispatch of its realtime half.
func (e *Engine) scatterGatherDeserialize(ctx context.Context, req *model.BrokerRequest, assignment []subAssignment) (map[model.ServerInstance]*model.DataTable, []model.ProcessingException) {
	ctx, end := telemetry.StartPhase(ctx, "broker.query.scatter_gather")
	defer end()
	defer e.timePhase("scatter_gather", time.Now())

	timeout := time.Duration(e.Broker.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tables := make(map[model.ServerInstance]*model.DataTable)
	var exceptions []model.ProcessingException

	for _, sub := range assignment {
		opts := scatter.Options{
			BrokerID:     e.Broker.ID,
			RequestID:    req.RequestID,
			TraceEnabled: req.Trace,
		}

		future := scatter.Dispatch(ctx, sub.request, sub.servers, e.Transport, opts)

		expected := make([]model.ServerInstance, 0, len(sub.servers))
		for server := range sub.servers {
			expected = append(expected, server)
		}

		collected := gather.Collect(ctx, future, expected, timeout)
		for range collected.Exceptions {
			if e.Metrics != nil {
				e.Metrics.RecordShardFailure("gather")
			}
		}
		exceptions = append(exceptions, collected.Exceptions...)

		decoded := deserialize.Deserialize(collected.Payloads, sub.index)
		for server, table := range decoded.Tables {
			tables[server] = table
		}
		exceptions = append(exceptions, decoded.Exceptions...)
	}

	telemetry.SetAttributes(ctx, telemetry.ScatterAttributes(len(tables), segmentCount(assignment))...)

	return tables, exceptions
}

func segmentCount(assignment []subAssignment) int {
	total := 0
	for _, a := range assignment {
		for _, set := range a.servers {
			total += len(set)
		}
	}
	return total
}

func (e *Engine) timePhase(phase string, start time.Time) {
	if e.Metrics != nil {
		e.Metrics.RecordPhase(phase, time.Since(start))
	}
}

func (e *Engine) auditTransition(ctx context.Context, req *model.BrokerRequest, action audit.Action) {
	if e.Audit == nil {
		return
	}
	entry := audit.NewEntry().
		Service("broker").
		Method("query.execute").
		Action(action).
		Outcome(audit.OutcomeSuccess).
		RequestID(strconv.FormatInt(req.RequestID, 10)).
		Meta("table", req.Table).
		Build()
	if err := e.Audit.Log(ctx, entry); err != nil {
		logger.WithRequestID(strconv.FormatInt(req.RequestID, 10)).Warn("audit log failed", "action", action, "error", err)
	}
}

func (e *Engine) recordOutcome(ctx context.Context, req *model.BrokerRequest, resp *model.BrokerResponse, state model.QueryState, requestIDStr string, duration time.Duration) {
	e.auditTransition(ctx, req, audit.ActionReturned)

	if e.Audit != nil {
		outcome := audit.OutcomeSuccess
		if state == model.QueryStateValidateFailed || state == model.QueryStateCompileFailed {
			outcome = audit.OutcomeFailure
		}
		entry := audit.NewEntry().
			Service("broker").
			Method("query.execute").
			Action(audit.Action(state)).
			Outcome(outcome).
			RequestID(requestIDStr).
			Duration(duration).
			Meta("table", req.Table).
			Meta("rows", rowCount(resp)).
			Build()
		if err := e.Audit.Log(ctx, entry); err != nil {
			logger.WithRequestID(requestIDStr).Warn("audit log failed", "state", state, "error", err)
		}
	}

	if e.Metrics == nil {
		return
	}
	codes := make([]int, 0, len(resp.Exceptions))
	for _, exc := range resp.Exceptions {
		codes = append(codes, exc.ErrorCode)
	}
	e.Metrics.RecordQueryOutcome(string(state), queryType(req), rowCount(resp), codes)
}

func rowCount(resp *model.BrokerResponse) int {
	if resp.Selection != nil {
		return len(resp.Selection.Rows)
	}
	return len(resp.Aggregations)
}

func queryType(req *model.BrokerRequest) string {
	switch req.Format {
	case model.ResponseFormatAggregation:
		return "aggregation"
	case model.ResponseFormatGroupBy:
		return "groupby"
	default:
		return "selection"
	}
}
