package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/metasys/bops/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit bounds ListInvocations when the filter sets no limit.
const DefaultListLimit = 100

// SQLiteStore is an invocation journal backed by SQLite. It implements
// engine.Journal.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ engine.Journal = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// pragmas are per connection, so they travel in the DSN
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordInvocation stores a finished invocation and its node calls in one
// transaction.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, record *engine.InvocationRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	input, err := marshalDocument(record.Input)
	if err != nil {
		return fmt.Errorf("failed to encode input of invocation %s: %w", record.ID, err)
	}
	var output *string
	if record.Output != nil {
		encoded, err := marshalDocument(record.Output)
		if err != nil {
			return fmt.Errorf("failed to encode output of invocation %s: %w", record.ID, err)
		}
		output = &encoded
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invocations (id, parent_id, operation, status, input, output, error, started_at, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		nullString(record.ParentID),
		record.Operation,
		record.Status,
		input,
		output,
		nullString(record.Error),
		record.StartedAt.UTC(),
		int64(record.Duration),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}

	if len(record.NodeCalls) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO node_calls (invocation_id, node_key, reference, kind, mode, started_at, duration_ns, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare node call insert: %w", err)
		}
		defer stmt.Close()

		for _, call := range record.NodeCalls {
			_, err := stmt.ExecContext(ctx,
				record.ID,
				call.Key,
				call.Reference,
				string(call.Kind),
				call.Mode,
				call.StartedAt.UTC(),
				int64(call.Duration),
				nullString(call.Error),
			)
			if err != nil {
				return fmt.Errorf("failed to record call of node %d: %w", call.Key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invocation %s: %w", record.ID, err)
	}
	return nil
}

const invocationColumns = `id, parent_id, operation, status, input, output, error, started_at, duration_ns`

// GetInvocation retrieves an invocation by ID, including its node calls.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*engine.InvocationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)

	record, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invocation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}

	calls, err := s.ListNodeCalls(ctx, id)
	if err != nil {
		return nil, err
	}
	record.NodeCalls = calls

	return record, nil
}

// ListInvocations lists invocations, newest first. Node calls are not
// loaded; use GetInvocation or ListNodeCalls for those.
func (s *SQLiteStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*engine.InvocationRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, filter.ParentID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + invocationColumns + ` FROM invocations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	records := []*engine.InvocationRecord{}
	for rows.Next() {
		record, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}

	return records, nil
}

// ListNodeCalls returns the node calls of an invocation in call order.
func (s *SQLiteStore) ListNodeCalls(ctx context.Context, invocationID string) ([]engine.NodeCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_key, reference, kind, mode, started_at, duration_ns, error
		FROM node_calls
		WHERE invocation_id = ?
		ORDER BY id
	`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node calls: %w", err)
	}
	defer rows.Close()

	var calls []engine.NodeCallRecord
	for rows.Next() {
		var (
			call     engine.NodeCallRecord
			kind     string
			duration int64
			errMsg   sql.NullString
		)
		if err := rows.Scan(&call.Key, &call.Reference, &kind, &call.Mode, &call.StartedAt, &duration, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan node call: %w", err)
		}
		call.Kind = engine.Kind(kind)
		call.Duration = time.Duration(duration)
		call.Error = errMsg.String
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node calls: %w", err)
	}

	return calls, nil
}

// DeleteInvocationsBefore removes invocations started before t, with their
// node calls. It returns the number of invocations removed.
func (s *SQLiteStore) DeleteInvocationsBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE started_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete invocations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// Stats summarizes the journal per operation, ordered by operation name.
func (s *SQLiteStore) Stats(ctx context.Context) ([]OperationStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			operation,
			COUNT(*),
			SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END),
			AVG(duration_ns)
		FROM invocations
		GROUP BY operation
		ORDER BY operation
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	defer rows.Close()

	var stats []OperationStats
	for rows.Next() {
		var (
			st  OperationStats
			avg float64
		)
		if err := rows.Scan(&st.Operation, &st.Total, &st.Succeeded, &st.Failed, &st.TimedOut, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		st.AvgDuration = time.Duration(avg)
		stats = append(stats, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	return stats, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row scanner) (*engine.InvocationRecord, error) {
	var (
		record   engine.InvocationRecord
		parentID sql.NullString
		input    string
		output   sql.NullString
		errMsg   sql.NullString
		duration int64
	)
	err := row.Scan(
		&record.ID,
		&parentID,
		&record.Operation,
		&record.Status,
		&input,
		&output,
		&errMsg,
		&record.StartedAt,
		&duration,
	)
	if err != nil {
		return nil, err
	}

	record.ParentID = parentID.String
	record.Error = errMsg.String
	record.Duration = time.Duration(duration)

	if err := json.Unmarshal([]byte(input), &record.Input); err != nil {
		return nil, fmt.Errorf("invalid input document: %w", err)
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &record.Output); err != nil {
			return nil, fmt.Errorf("invalid output document: %w", err)
		}
	}

	return &record, nil
}

func marshalDocument(doc map[string]any) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
