// Package routing implements the broker's Candidate Server Resolver (C4):
// it consults the routing provider's read-only snapshot for the candidate
// replica servers backing one physical table, grouped by segment set,
// optionally cached for a configured TTL.
package routing

import (
	"context"
	"strings"
	"time"

	"querybroker/internal/broker/model"
	"querybroker/pkg/apperror"
	"querybroker/pkg/cache"
)

// Provider is the subset of the routing provider contract C4 needs: a
// lookup from a physical table name and parsed routing options to the
// segment groups currently published for it, each carrying its own list of
// candidate replica servers. Implementations must be safe for concurrent
// reads; the snapshot they expose is treated as immutable for the duration
// of one lookup. Replica selection itself is C5's job, not the provider's.
type Provider interface {
	Lookup(ctx context.Context, physicalTableName string, options []string) ([]model.SegmentGroup, error)
}

// Resolve asks the routing provider for the candidate segment groups
// backing one physical table. An empty result is not an error — it
// contributes no work to the dispatcher.
func Resolve(ctx context.Context, provider Provider, req *model.BrokerRequest) ([]model.SegmentGroup, error) {
	groups, err := provider.Lookup(ctx, req.Table, req.RoutingOptions())
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeBrokerGatherError, "routing lookup failed for "+req.Table)
	}
	return groups, nil
}

// Resolver is the shape the broker's orchestrator depends on: resolve a
// request's table to its candidate segment groups, cached or not. Both
// DirectResolver and CachingResolver satisfy it.
type Resolver interface {
	Resolve(ctx context.Context, req *model.BrokerRequest) ([]model.SegmentGroup, error)
}

// DirectResolver adapts a Provider into a Resolver with no caching, for
// deployments where the routing provider's own snapshot refresh is fast
// enough that a broker-side cache adds nothing.
type DirectResolver struct {
	provider Provider
}

// NewDirectResolver wraps provider with no caching layer.
func NewDirectResolver(provider Provider) *DirectResolver {
	return &DirectResolver{provider: provider}
}

// Resolve satisfies Resolver by calling straight through to Resolve(ctx, provider, req).
func (d *DirectResolver) Resolve(ctx context.Context, req *model.BrokerRequest) ([]model.SegmentGroup, error) {
	return Resolve(ctx, d.provider, req)
}

// CachingResolver wraps a Provider with a short-lived cache so that repeat
// lookups for the same physical table and routing options within the TTL,
// across requests, reuse a single snapshot instead of round-tripping to the
// routing provider each time. The offline and realtime halves of a hybrid
// query are different physical tables and are cached separately. Per spec 4.4,
// the routing provider's snapshot is already stable within a request; the
// cache exists to spare the provider redundant calls, not to alter
// semantics.
type CachingResolver struct {
	provider Provider
	backing  cache.Cache
	ttl      time.Duration
}

// NewCachingResolver builds a resolver that consults backing before calling
// through to provider, and populates backing on a miss.
func NewCachingResolver(provider Provider, backing cache.Cache, ttl time.Duration) *CachingResolver {
	return &CachingResolver{provider: provider, backing: backing, ttl: ttl}
}

// Resolve looks up segment groups for req.Table, consulting the cache first.
func (r *CachingResolver) Resolve(ctx context.Context, req *model.BrokerRequest) ([]model.SegmentGroup, error) {
	key := cacheKey(req.Table, req.RoutingOptions())

	if wire, ok := cache.GetJSON[[]wireGroup](ctx, r.backing, key); ok {
		return decodeGroups(wire), nil
	}

	groups, err := Resolve(ctx, r.provider, req)
	if err != nil {
		return nil, err
	}

	cache.SetJSON(ctx, r.backing, key, encodeGroups(groups), r.ttl)

	return groups, nil
}

func cacheKey(physicalTableName string, options []string) string {
	if len(options) == 0 {
		return "routing:" + physicalTableName
	}
	return "routing:" + physicalTableName + ":" + strings.Join(options, ",")
}

// wireGroup mirrors model.SegmentGroup in a form that round-trips through
// encoding/json; SegmentIDSet's map-to-struct{} shape does not marshal
// directly.
type wireGroup struct {
	Replicas []model.ServerInstance `json:"replicas"`
	Segments []string               `json:"segments"`
}

func encodeGroups(groups []model.SegmentGroup) []wireGroup {
	wire := make([]wireGroup, 0, len(groups))
	for _, g := range groups {
		wire = append(wire, wireGroup{Replicas: g.Replicas, Segments: g.Segments.Names()})
	}
	return wire
}

func decodeGroups(wire []wireGroup) []model.SegmentGroup {
	groups := make([]model.SegmentGroup, 0, len(wire))
	for _, w := range wire {
		groups = append(groups, model.SegmentGroup{Replicas: w.Replicas, Segments: model.NewSegmentIDSet(w.Segments...)})
	}
	return groups
}
