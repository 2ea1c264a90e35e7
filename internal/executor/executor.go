package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/querytalk/querytalk/internal/observability"
)

type Kind string

const (
	KindSyntax         Kind = "syntax_error"
	KindPermission     Kind = "permission_error"
	KindTimeout        Kind = "timeout"
	KindConnectionLost Kind = "connection_lost"
	KindUnknown        Kind = "unknown"
)

// ExecError is the classified failure of one statement execution.
// Only KindSyntax is eligible for a re-synthesis attempt upstream.
type ExecError struct {
	Kind    Kind
	Message string
	err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecError) Unwrap() error {
	return e.err
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Executor runs one read-only statement per call against the database
// with a bounded statement timeout. It never retries.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
}

func New(db *sql.DB, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{db: db, timeout: timeout}
}

func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return Result{}, &ExecError{Kind: KindSyntax, Message: "empty statement"}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(execCtx, sqlText)
	if err != nil {
		return Result{}, e.failure(ctx, execCtx, err, start)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, e.failure(ctx, execCtx, err, start)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, e.failure(ctx, execCtx, err, start)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, e.failure(ctx, execCtx, err, start)
	}

	duration := time.Since(start)
	observability.ObserveQuery("ok", duration)
	return Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: duration,
	}, nil
}

// failure converts a raw driver error into a classified ExecError.
// A cancelled parent context is passed through untouched so the caller
// can tell an abandoned turn from a statement timeout.
func (e *Executor) failure(parent, execCtx context.Context, err error, start time.Time) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	classified := Classify(execCtx, err)
	observability.ObserveQuery(string(classified.Kind), time.Since(start))
	return classified
}

func Classify(ctx context.Context, err error) *ExecError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501":
			return &ExecError{Kind: KindPermission, Message: pgErr.Message, err: err}
		case strings.HasPrefix(pgErr.Code, "42"):
			return &ExecError{Kind: KindSyntax, Message: pgErr.Message, err: err}
		case pgErr.Code == "57014":
			return &ExecError{Kind: KindTimeout, Message: pgErr.Message, err: err}
		case strings.HasPrefix(pgErr.Code, "08"):
			return &ExecError{Kind: KindConnectionLost, Message: pgErr.Message, err: err}
		default:
			return &ExecError{Kind: KindUnknown, Message: pgErr.Message, err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecError{Kind: KindTimeout, Message: "statement timeout exceeded", err: err}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &ExecError{Kind: KindConnectionLost, Message: err.Error(), err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ExecError{Kind: KindTimeout, Message: err.Error(), err: err}
		}
		return &ExecError{Kind: KindConnectionLost, Message: err.Error(), err: err}
	}
	return &ExecError{Kind: KindUnknown, Message: err.Error(), err: err}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
