// Package tablematch implements the broker's Table Matcher (C2): resolving
// a logical table name to the physical tables that actually exist in the
// routing provider's snapshot.
package tablematch

import (
	"context"

	"querybroker/internal/broker/model"
)

// Existence is the subset of the routing provider contract C2 needs: a
// read-only, concurrency-safe existence check for one physical table name.
type Existence interface {
	Exists(ctx context.Context, physicalTableName string) (bool, error)
}

// Match resolves logical to its physical tables: OFFLINE and REALTIME if
// either or both exist, else raw logical if that exists, else an empty
// list. The returned order is always [offline, realtime] when both are
// present, matching the splitter's expectation in C3.
func Match(ctx context.Context, existence Existence, logical string) ([]string, error) {
	offline := model.OfflineTableName(logical)
	realtime := model.RealtimeTableName(logical)

	offlineExists, err := existence.Exists(ctx, offline)
	if err != nil {
		return nil, err
	}
	realtimeExists, err := existence.Exists(ctx, realtime)
	if err != nil {
		return nil, err
	}

	var matched []string
	if offlineExists {
		matched = append(matched, offline)
	}
	if realtimeExists {
		matched = append(matched, realtime)
	}
	if len(matched) > 0 {
		return matched, nil
	}

	rawExists, err := existence.Exists(ctx, logical)
	if err != nil {
		return nil, err
	}
	if rawExists {
		return []string{logical}, nil
	}

	return nil, nil
}

// IsHybrid reports whether the matched physical tables require the Hybrid
// Request Splitter (C3): both an offline and a realtime table present.
func IsHybrid(physicalTables []string) bool {
	if len(physicalTables) != 2 {
		return false
	}
	return model.IsOfflineTable(physicalTables[0]) && model.IsRealtimeTable(physicalTables[1])
}
