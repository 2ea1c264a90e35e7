package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository appends records to the query_history table. The table is
// created by the embedded migrations.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const insertRecordQuery = `
INSERT INTO query_history (session_id, turn_id, recorded_at, user_question, generated_sql, execution_status, result_summary, final_response)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *Repository) Record(ctx context.Context, record Record) error {
	_, err := r.db.ExecContext(ctx, insertRecordQuery,
		record.SessionID,
		record.TurnID,
		record.Timestamp.UTC(),
		record.Question,
		nullableString(record.GeneratedSQL),
		string(record.ExecutionStatus),
		nullableString(record.ResultSummary),
		nullableString(record.FinalResponse),
	)
	if err != nil {
		return fmt.Errorf("%w: insert query_history: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// Recent returns the last limit records for a session in turn order,
// oldest first.
func (r *Repository) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, turn_id, recorded_at, user_question, generated_sql, execution_status, result_summary, final_response
FROM query_history
WHERE session_id = $1
ORDER BY turn_id DESC
LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0)
	for rows.Next() {
		var record Record
		var recordedAt time.Time
		var generatedSQL, resultSummary, finalResponse sql.NullString
		var status string
		if err := rows.Scan(
			&record.SessionID,
			&record.TurnID,
			&recordedAt,
			&record.Question,
			&generatedSQL,
			&status,
			&resultSummary,
			&finalResponse,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		record.Timestamp = recordedAt
		record.GeneratedSQL = generatedSQL.String
		record.ExecutionStatus = statusFromString(status)
		record.ResultSummary = resultSummary.String
		record.FinalResponse = finalResponse.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
