// Package model holds the data types shared by every stage of the broker's
// query fan-out pipeline (C1-C9): the request tree, the filter arena, server
// identity, the wire-level partial result table, and the merged response.
package model

import "strings"

// Physical table suffixes a logical table name is expanded into.
const (
	OfflineSuffix  = "_OFFLINE"
	RealtimeSuffix = "_REALTIME"
)

// OfflineTableName derives the offline physical name for a logical table.
func OfflineTableName(logical string) string {
	return logical + OfflineSuffix
}

// RealtimeTableName derives the realtime physical name for a logical table.
func RealtimeTableName(logical string) string {
	return logical + RealtimeSuffix
}

// IsOfflineTable reports whether name carries the offline suffix.
func IsOfflineTable(name string) bool {
	return strings.HasSuffix(name, OfflineSuffix)
}

// IsRealtimeTable reports whether name carries the realtime suffix.
func IsRealtimeTable(name string) bool {
	return strings.HasSuffix(name, RealtimeSuffix)
}

// LogicalTableName strips a known physical suffix, returning name unchanged
// if it carries neither.
func LogicalTableName(physical string) string {
	if IsOfflineTable(physical) {
		return strings.TrimSuffix(physical, OfflineSuffix)
	}
	if IsRealtimeTable(physical) {
		return strings.TrimSuffix(physical, RealtimeSuffix)
	}
	return physical
}
