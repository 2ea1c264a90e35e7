package executor

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, time.Second), mock
}

func TestExecuteReturnsRows(t *testing.T) {
	exec, mock := newExecutor(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, email FROM customers LIMIT 5")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).
			AddRow("Alice", []byte("alice@example.com")).
			AddRow("Bob", "bob@example.com"))

	result, err := exec.Execute(context.Background(), "SELECT name, email FROM customers LIMIT 5;")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || len(result.Rows) != 2 {
		t.Fatalf("columns=%d rows=%d", len(result.Columns), len(result.Rows))
	}
	if result.Rows[0][1] != "alice@example.com" {
		t.Fatalf("byte slice not normalized: %v", result.Rows[0][1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecuteRejectsEmptyStatement(t *testing.T) {
	exec, _ := newExecutor(t)
	_, err := exec.Execute(context.Background(), "  ;; ")
	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Kind != KindSyntax {
		t.Fatalf("error = %v, want syntax ExecError", err)
	}
}

func TestExecuteClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"syntax", &pgconn.PgError{Code: "42601", Message: `syntax error at or near "FORM"`}, KindSyntax},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, KindSyntax},
		{"permission", &pgconn.PgError{Code: "42501", Message: "permission denied"}, KindPermission},
		{"query canceled", &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}, KindTimeout},
		{"connection failure", &pgconn.PgError{Code: "08006", Message: "connection failure"}, KindConnectionLost},
		{"other pg error", &pgconn.PgError{Code: "53200", Message: "out of memory"}, KindUnknown},
		{"bad conn", errors.New("driver: bad connection"), KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec, mock := newExecutor(t)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).WillReturnError(tc.err)

			_, err := exec.Execute(context.Background(), "SELECT 1")
			var execErr *ExecError
			if !errors.As(err, &execErr) {
				t.Fatalf("error = %v, want ExecError", err)
			}
			if execErr.Kind != tc.want {
				t.Fatalf("Kind = %q, want %q", execErr.Kind, tc.want)
			}
		})
	}
}

func TestExecutePassesThroughParentCancellation(t *testing.T) {
	exec, mock := newExecutor(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).WillReturnError(context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, "SELECT 1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		t.Fatal("cancellation must not be classified as an ExecError")
	}
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	got := Classify(context.Background(), context.DeadlineExceeded)
	if got.Kind != KindTimeout {
		t.Fatalf("Kind = %q, want %q", got.Kind, KindTimeout)
	}
}
