package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	dispute "github.com/goliatone/go-dispute"
)

// Dialect selects placeholder style and DDL for a SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore persists runs in a single table; the full run is kept as JSON next
// to the indexed columns used for lookups.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     func() time.Time
}

// NewSQLStore wraps db. The table defaults to dispute_runs.
func NewSQLStore(db *sql.DB, dialect Dialect, table string) *SQLStore {
	if table == "" {
		table = "dispute_runs"
	}
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &SQLStore{db: db, dialect: dialect, table: table, now: time.Now}
}

// OpenSQLite opens a SQLite database and ensures the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	return openSQL(ctx, DialectSQLite, dsn)
}

// OpenPostgres opens a Postgres database and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	return openSQL(ctx, DialectPostgres, dsn)
}

func openSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// a single connection keeps ":memory:" databases coherent
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := NewSQLStore(db, dialect, "")
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) DB() *sql.DB { return s.db }

// EnsureSchema creates the runs table and its indexes when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sql store not configured")
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		current_step TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_case_idx ON %s (case_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_step_idx ON %s (current_step)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, run *dispute.Run) (*dispute.Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sql store not configured")
	}
	rec, err := prepareCreate(run, s.now())
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	q := s.rebind(fmt.Sprintf(`INSERT INTO %s (run_id, case_id, customer_id, current_step, status, version, payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (run_id) DO NOTHING`, s.table))
	result, err := s.db.ExecContext(ctx, q,
		rec.RunID,
		rec.CaseID,
		rec.CustomerID,
		string(rec.CurrentStep),
		string(rec.Status),
		rec.Version,
		string(payload),
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, exists(rec.RunID)
	}
	return rec, nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (*dispute.Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sql store not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, nil
	}
	q := s.rebind(fmt.Sprintf(`SELECT payload, version FROM %s WHERE run_id = ?`, s.table))
	var payload string
	var version int
	err := s.db.QueryRowContext(ctx, q, runID).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRun(payload, version)
}

func (s *SQLStore) Patch(ctx context.Context, runID string, expectedVersion int, patch Patch) (*dispute.Run, error) {
	current, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, notFound(runID)
	}
	if err := checkVersion(current, expectedVersion); err != nil {
		return nil, err
	}
	next := Apply(current, patch, s.now())
	payload, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	q := s.rebind(fmt.Sprintf(`UPDATE %s SET current_step = ?, status = ?, version = ?, payload = ?, updated_at = ? WHERE run_id = ? AND version = ?`, s.table))
	result, err := s.db.ExecContext(ctx, q,
		string(next.CurrentStep),
		string(next.Status),
		next.Version,
		string(payload),
		next.UpdatedAt.UTC().Format(timeLayout),
		runID,
		current.Version,
	)
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, versionConflict(runID, current.Version, -1)
	}
	return next, nil
}

func (s *SQLStore) ListByCase(ctx context.Context, caseID string) ([]*dispute.Run, error) {
	q := fmt.Sprintf(`SELECT payload, version FROM %s WHERE case_id = ? ORDER BY created_at, run_id`, s.table)
	return s.list(ctx, q, caseID)
}

func (s *SQLStore) ListByStep(ctx context.Context, step dispute.Step, limit int) ([]*dispute.Run, error) {
	q := fmt.Sprintf(`SELECT payload, version FROM %s WHERE current_step = ? ORDER BY created_at, run_id`, s.table)
	if limit > 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}
	return s.list(ctx, q, string(step))
}

func (s *SQLStore) MarkCompleted(ctx context.Context, runID string, expectedVersion int, final dispute.FinalResolution) (*dispute.Run, error) {
	return s.Patch(ctx, runID, expectedVersion, CompletedPatch(final, s.now()))
}

func (s *SQLStore) MarkFailed(ctx context.Context, runID string, expectedVersion int, message string) (*dispute.Run, error) {
	return s.Patch(ctx, runID, expectedVersion, FailedPatch(message, s.now()))
}

func (s *SQLStore) list(ctx context.Context, query string, arg any) ([]*dispute.Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sql store not configured")
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*dispute.Run, 0)
	for rows.Next() {
		var payload string
		var version int
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, err
		}
		run, err := decodeRun(payload, version)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func decodeRun(payload string, version int) (*dispute.Run, error) {
	var run dispute.Run
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	run.Version = version
	return &run, nil
}
