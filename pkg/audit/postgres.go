package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"querybroker/pkg/database"
	"querybroker/pkg/logger"
	"querybroker/pkg/telemetry"
)

// PostgresLogger persists audit entries to a "query_audit_log" table via the
// shared database.DB pool. Query lifecycle entries accumulate quickly under
// load, so writes go through a small async buffer like FileLogger rather
// than blocking the caller on a round trip.
type PostgresLogger struct {
	db     database.DB
	config *Config
	buffer chan *Entry
	done   chan struct{}
}

// NewPostgresLogger creates a PostgresLogger backed by db. The caller owns
// the lifetime of db; Close only stops the background flush loop.
func NewPostgresLogger(db database.DB, cfg *Config) *PostgresLogger {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	l := &PostgresLogger{
		db:     db,
		config: cfg,
		buffer: make(chan *Entry, bufferSize),
		done:   make(chan struct{}),
	}

	go l.processLoop()

	return l
}

// Log enqueues an audit entry for asynchronous persistence. If the buffer is
// full the entry is written synchronously so a burst never silently drops
// query-lifecycle history.
func (l *PostgresLogger) Log(ctx context.Context, entry *Entry) error {
	if !l.config.Enabled {
		return nil
	}

	select {
	case l.buffer <- entry:
		return nil
	default:
		return l.insert(ctx, entry)
	}
}

func (l *PostgresLogger) processLoop() {
	for {
		select {
		case <-l.done:
			return
		case entry := <-l.buffer:
			if err := l.insert(context.Background(), entry); err != nil {
				logWriteFailure(entry, err)
			}
		}
	}
}

func (l *PostgresLogger) insert(ctx context.Context, entry *Entry) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresLogger.Log")
	defer span.End()

	if err := l.insertTx(ctx, l.db, entry); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

// execer is the single method insertTx needs from either the shared pool
// (database.DB) or a transaction (pgx.Tx), so one insert path serves both
// the fire-and-forget Log and the batched Close transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (l *PostgresLogger) insertTx(ctx context.Context, exec execer, entry *Entry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	var changesJSON []byte
	if entry.Changes != nil {
		changesJSON, err = json.Marshal(entry.Changes)
		if err != nil {
			changesJSON = nil
		}
	}

	query := `
		INSERT INTO query_audit_log (
			id, timestamp, service, method, action, outcome,
			user_id, username, client_ip, user_agent,
			resource, resource_id, request_id,
			duration_ms, error_code, error_message,
			changes, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = exec.Exec(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.Service,
		entry.Method,
		string(entry.Action),
		string(entry.Outcome),
		nullString(entry.UserID),
		nullString(entry.Username),
		nullString(entry.ClientIP),
		nullString(entry.UserAgent),
		nullString(entry.Resource),
		nullString(entry.ResourceID),
		nullString(entry.RequestID),
		entry.DurationMs,
		nullString(entry.ErrorCode),
		nullString(entry.ErrorMessage),
		changesJSON,
		metadataJSON,
	)
	return err
}

// Query retrieves audit entries matching filter, newest first.
func (l *PostgresLogger) Query(ctx context.Context, filter *QueryFilter) ([]*Entry, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresLogger.Query")
	defer span.End()

	where, args := buildWhereClause(filter)
	limit, offset := 100, 0
	if filter != nil {
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		offset = filter.Offset
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, service, method, action, outcome,
			user_id, username, client_ip, user_agent,
			resource, resource_id, request_id,
			duration_ms, error_code, error_message, metadata
		FROM query_audit_log
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Close stops the background flush loop, then drains whatever is left in
// the buffer as a single transaction: a shutdown mid-burst should leave
// either all of the trailing entries visible or none of them, never a
// partial run that makes the query-lifecycle history for that window look
// shorter than it was.
func (l *PostgresLogger) Close() error {
	close(l.done)

	var remaining []*Entry
	for {
		select {
		case entry := <-l.buffer:
			remaining = append(remaining, entry)
		default:
			if len(remaining) == 0 {
				return nil
			}
			return l.flushBatch(context.Background(), remaining)
		}
	}
}

func (l *PostgresLogger) flushBatch(ctx context.Context, entries []*Entry) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresLogger.flushBatch")
	defer span.End()

	err := database.WithTransaction(ctx, l.db, func(tx pgx.Tx) error {
		for _, entry := range entries {
			if err := l.insertTx(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		for _, entry := range entries {
			logWriteFailure(entry, err)
		}
		return fmt.Errorf("flush audit batch: %w", err)
	}
	return nil
}

func buildWhereClause(filter *QueryFilter) (string, []any) {
	if filter == nil {
		return "1=1", nil
	}

	conditions := []string{"1=1"}
	args := []any{}
	argNum := 1

	if filter.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argNum))
		args = append(args, *filter.StartTime)
		argNum++
	}
	if filter.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argNum))
		args = append(args, *filter.EndTime)
		argNum++
	}
	if filter.Service != "" {
		conditions = append(conditions, fmt.Sprintf("service = $%d", argNum))
		args = append(args, filter.Service)
		argNum++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argNum))
		args = append(args, string(filter.Action))
		argNum++
	}
	if filter.Outcome != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argNum))
		args = append(args, string(filter.Outcome))
		argNum++
	}
	if filter.Resource != "" {
		conditions = append(conditions, fmt.Sprintf("resource = $%d", argNum))
		args = append(args, filter.Resource)
		argNum++
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", argNum))
		args = append(args, filter.ResourceID)
	}

	return strings.Join(conditions, " AND "), args
}

func scanEntry(rows pgx.Rows) (*Entry, error) {
	entry := &Entry{Metadata: make(map[string]any)}
	var (
		userID, username, clientIP, userAgent string
		resource, resourceID, requestID       string
		errorCode, errorMessage               string
		action, outcome                       string
		metadata                              []byte
	)

	err := rows.Scan(
		&entry.ID,
		&entry.Timestamp,
		&entry.Service,
		&entry.Method,
		&action,
		&outcome,
		&userID,
		&username,
		&clientIP,
		&userAgent,
		&resource,
		&resourceID,
		&requestID,
		&entry.DurationMs,
		&errorCode,
		&errorMessage,
		&metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	entry.Action = Action(action)
	entry.Outcome = Outcome(outcome)
	entry.UserID = userID
	entry.Username = username
	entry.ClientIP = clientIP
	entry.UserAgent = userAgent
	entry.Resource = resource
	entry.ResourceID = resourceID
	entry.RequestID = requestID
	entry.ErrorCode = errorCode
	entry.ErrorMessage = errorMessage

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			entry.Metadata = make(map[string]any)
		}
	}

	return entry, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func logWriteFailure(entry *Entry, err error) {
	logger.Log.Warn("failed to write audit entry", "id", entry.ID, "error", err)
}
