package history

import (
	"context"
	"errors"
	"time"

	"github.com/querytalk/querytalk/internal/session"
)

// ErrPersistenceFailed marks a failed audit write. The answer already
// produced for the user is never rolled back because of it; callers
// surface the failure on a separate warning channel.
var ErrPersistenceFailed = errors.New("history record not persisted")

// Record is the durable projection of one terminal turn.
type Record struct {
	SessionID       string                  `json:"session_id"`
	TurnID          int64                   `json:"turn_id"`
	Timestamp       time.Time               `json:"timestamp"`
	Question        string                  `json:"question"`
	GeneratedSQL    string                  `json:"generated_sql,omitempty"`
	ExecutionStatus session.ExecutionStatus `json:"execution_status"`
	ResultSummary   string                  `json:"result_summary,omitempty"`
	FinalResponse   string                  `json:"final_response,omitempty"`
}

type Recorder interface {
	Record(ctx context.Context, record Record) error
}

func statusFromString(value string) session.ExecutionStatus {
	switch session.ExecutionStatus(value) {
	case session.StatusNotAttempted, session.StatusSucceeded, session.StatusFailed:
		return session.ExecutionStatus(value)
	default:
		return session.StatusNotAttempted
	}
}

// FromTurn builds the audit record for a terminal turn.
func FromTurn(sessionID string, turn session.Turn) Record {
	return Record{
		SessionID:       sessionID,
		TurnID:          turn.TurnID,
		Timestamp:       turn.Timestamp.UTC(),
		Question:        turn.Question,
		GeneratedSQL:    turn.GeneratedSQL,
		ExecutionStatus: turn.ExecutionStatus,
		ResultSummary:   turn.ResultSummary,
		FinalResponse:   turn.FinalResponse,
	}
}
