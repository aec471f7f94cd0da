// Package boundary implements splitter.TimeBoundaryProvider: a lookup from
// an offline table name to the column/value pair that splits its history
// from the realtime table's live data, published by the same external
// routing control plane C4 consults. As with C4's Provider, the boundary
// provider's own RPC shape is an external contract; no generated client
// stub is wired here (see internal/broker/routing for the same
// protoc-unavailable reasoning), only a plain Go interface a concrete
// transport plugs into from cmd/broker.
package boundary

import (
	"context"
	"time"

	"querybroker/internal/broker/model"
	"querybroker/pkg/apperror"
	"querybroker/pkg/cache"
)

// Provider is the subset of the time-boundary control plane the broker
// needs: a lookup from an offline physical table name to its published
// boundary. A nil info with a nil error means no boundary is currently
// published, which callers treat as a graceful degradation, not a failure.
type Provider interface {
	GetTimeBoundaryInfoFor(ctx context.Context, offlineTableName string) (*model.TimeBoundaryInfo, error)
}

// Client adapts a Provider so it satisfies splitter.TimeBoundaryProvider
// directly, wrapping provider errors in apperror the way C4's routing.Resolve
// does for its own provider.
type Client struct {
	provider Provider
}

// NewClient wraps provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// GetTimeBoundaryInfoFor satisfies splitter.TimeBoundaryProvider.
func (c *Client) GetTimeBoundaryInfoFor(ctx context.Context, offlineTableName string) (*model.TimeBoundaryInfo, error) {
	info, err := c.provider.GetTimeBoundaryInfoFor(ctx, offlineTableName)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeBrokerGatherError, "time boundary lookup failed for "+offlineTableName)
	}
	return info, nil
}

// CachingResolver wraps a Provider with a short-lived cache, the same
// shape as routing.CachingResolver: repeat lookups of the same table's
// boundary within the TTL, across requests, are answered from the cache
// instead of the control plane.
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

// GetTimeBoundaryInfoFor satisfies splitter.TimeBoundaryProvider, consulting
// the cache first.
func (r *CachingResolver) GetTimeBoundaryInfoFor(ctx context.Context, offlineTableName string) (*model.TimeBoundaryInfo, error) {
	key := "boundary:" + offlineTableName

	if w, ok := cache.GetJSON[wireInfo](ctx, r.backing, key); ok {
		return decodeInfo(w), nil
	}

	info, err := r.provider.GetTimeBoundaryInfoFor(ctx, offlineTableName)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeBrokerGatherError, "time boundary lookup failed for "+offlineTableName)
	}

	cache.SetJSON(ctx, r.backing, key, encodeInfo(info), r.ttl)

	return info, nil
}

// wireInfo distinguishes "no boundary published" (Present=false) from an
// actual TimeBoundaryInfo in the cached byte form, since a nil pointer has
// no JSON encoding distinct from an absent cache entry.
type wireInfo struct {
	Present bool   `json:"present"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
}

func encodeInfo(info *model.TimeBoundaryInfo) wireInfo {
	if info == nil {
		return wireInfo{Present: false}
	}
	return wireInfo{Present: true, Column: info.TimeColumn, Value: info.TimeValue}
}

func decodeInfo(w wireInfo) *model.TimeBoundaryInfo {
	if !w.Present {
		return nil
	}
	return &model.TimeBoundaryInfo{TimeColumn: w.Column, TimeValue: w.Value}
}
