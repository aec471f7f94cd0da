package audit

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func newMockLogger(t *testing.T) (*PostgresLogger, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	return &PostgresLogger{
		db:     mock,
		config: &Config{Enabled: true, BufferSize: 4},
		buffer: make(chan *Entry, 4),
		done:   make(chan struct{}),
	}, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresLogger_LogSynchronousInsert(t *testing.T) {
	l, mock := newMockLogger(t)
	for i := 0; i < cap(l.buffer); i++ { // fill the buffer to force the select's default branch, exercising the synchronous insert path
		l.buffer <- NewEntry().Build()
	}

	mock.ExpectExec("INSERT INTO query_audit_log").
		WithArgs(anyArgs(18)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry := NewEntry().Service("broker").Method("query.execute").Action(ActionReturned).Outcome(OutcomeSuccess).Build()
	if err := l.Log(context.Background(), entry); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLogger_LogDisabledIsNoop(t *testing.T) {
	l, mock := newMockLogger(t)
	l.config.Enabled = false

	if err := l.Log(context.Background(), NewEntry().Build()); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLogger_CloseFlushesBufferInOneTransaction(t *testing.T) {
	l, mock := newMockLogger(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO query_audit_log").WithArgs(anyArgs(18)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO query_audit_log").WithArgs(anyArgs(18)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	l.buffer <- NewEntry().Action(ActionReduced).Outcome(OutcomeSuccess).Build()
	l.buffer <- NewEntry().Action(ActionReturned).Outcome(OutcomeSuccess).Build()

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLogger_CloseRollsBackOnPartialFailure(t *testing.T) {
	l, mock := newMockLogger(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO query_audit_log").WithArgs(anyArgs(18)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO query_audit_log").WithArgs(anyArgs(18)...).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	l.buffer <- NewEntry().Action(ActionReduced).Outcome(OutcomeSuccess).Build()
	l.buffer <- NewEntry().Action(ActionReturned).Outcome(OutcomeSuccess).Build()

	if err := l.Close(); err == nil {
		t.Fatal("expected Close() to surface the batch failure")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLogger_CloseWithEmptyBufferSkipsTransaction(t *testing.T) {
	l, mock := newMockLogger(t)

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLogger_Query(t *testing.T) {
	l, mock := newMockLogger(t)

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "timestamp", "service", "method", "action", "outcome",
		"user_id", "username", "client_ip", "user_agent",
		"resource", "resource_id", "request_id",
		"duration_ms", "error_code", "error_message", "metadata",
	}).AddRow(
		"audit-1", now, "broker", "query.execute", string(ActionReturned), string(OutcomeSuccess),
		"", "", "", "",
		"events_OFFLINE", "", "req-1",
		int64(12), "", "",
		[]byte(`{}`),
	)

	mock.ExpectQuery("SELECT id, timestamp, service, method, action, outcome").WillReturnRows(rows)

	entries, err := l.Query(context.Background(), &QueryFilter{Resource: "events_OFFLINE"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "audit-1" {
		t.Errorf("Query() = %+v, want one entry with ID audit-1", entries)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
