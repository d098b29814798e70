package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	dispute "github.com/goliatone/go-dispute"
)

func newPostgresMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, DialectPostgres, ""), mock
}

func TestPostgresRebindPlaceholders(t *testing.T) {
	s := NewSQLStore(nil, DialectPostgres, "")
	got := s.rebind("UPDATE t SET a = ?, b = ? WHERE c = ?")
	if got != "UPDATE t SET a = $1, b = $2 WHERE c = $3" {
		t.Fatalf("unexpected rebind: %s", got)
	}
	lite := NewSQLStore(nil, DialectSQLite, "")
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Fatalf("sqlite must keep ? placeholders, got %s", q)
	}
}

func TestPostgresCreate(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(`(?s)INSERT INTO dispute_runs .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\) ON CONFLICT`).
		WithArgs("run-1", "case-1", "cust-1", "fetch_data", "running", 1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	run := &dispute.Run{RunID: "run-1", CaseID: "case-1", CustomerID: "cust-1", CurrentStep: dispute.StepFetchData, Status: dispute.StatusRunning}
	created, err := s.Create(context.Background(), run)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresCreateDuplicate(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec(`INSERT INTO dispute_runs`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Create(context.Background(), &dispute.Run{RunID: "run-1", CaseID: "c"})
	if !dispute.HasCode(err, dispute.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPatchCompareAndSet(t *testing.T) {
	s, mock := newPostgresMock(t)

	stored, _ := json.Marshal(&dispute.Run{RunID: "run-1", CaseID: "case-1", CurrentStep: dispute.StepFetchData, Status: dispute.StatusRunning})
	mock.ExpectQuery(`SELECT payload, version FROM dispute_runs WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow(string(stored), 3))
	mock.ExpectExec(`UPDATE dispute_runs SET .* WHERE run_id = \$6 AND version = \$7`).
		WithArgs("validate_dispute", "running", 4, sqlmock.AnyArg(), sqlmock.AnyArg(), "run-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	step := dispute.StepValidateDispute
	got, err := s.Patch(context.Background(), "run-1", 3, Patch{CurrentStep: &step})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.Version != 4 || got.CurrentStep != dispute.StepValidateDispute {
		t.Fatalf("unexpected patched run: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPatchLostRace(t *testing.T) {
	s, mock := newPostgresMock(t)

	stored, _ := json.Marshal(&dispute.Run{RunID: "run-1", CaseID: "case-1"})
	mock.ExpectQuery(`SELECT payload, version FROM dispute_runs`).
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow(string(stored), 2))
	mock.ExpectExec(`UPDATE dispute_runs`).WillReturnResult(sqlmock.NewResult(0, 0))

	msg := "x"
	_, err := s.Patch(context.Background(), "run-1", 2, Patch{ErrorMessage: &msg})
	if !dispute.HasCode(err, dispute.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPatchStaleVersionSkipsUpdate(t *testing.T) {
	s, mock := newPostgresMock(t)

	stored, _ := json.Marshal(&dispute.Run{RunID: "run-1"})
	mock.ExpectQuery(`SELECT payload, version FROM dispute_runs`).
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow(string(stored), 5))

	msg := "x"
	_, err := s.Patch(context.Background(), "run-1", 4, Patch{ErrorMessage: &msg})
	if !dispute.HasCode(err, dispute.ErrCodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresListByStepWithLimit(t *testing.T) {
	s, mock := newPostgresMock(t)

	a, _ := json.Marshal(&dispute.Run{RunID: "a", CurrentStep: dispute.StepWaitHumanReview})
	b, _ := json.Marshal(&dispute.Run{RunID: "b", CurrentStep: dispute.StepWaitHumanReview})
	mock.ExpectQuery(`SELECT payload, version FROM dispute_runs WHERE current_step = \$1 ORDER BY created_at, run_id LIMIT 5`).
		WithArgs("wait_human_review").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow(string(a), 6).AddRow(string(b), 7))

	runs, err := s.ListByStep(context.Background(), dispute.StepWaitHumanReview, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "a" || runs[1].Version != 7 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresEnsureSchema(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS dispute_runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS dispute_runs_case_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS dispute_runs_step_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
