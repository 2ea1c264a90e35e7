package session

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	StatusNotAttempted ExecutionStatus = "not_attempted"
	StatusSucceeded    ExecutionStatus = "succeeded"
	StatusFailed       ExecutionStatus = "failed"
)

// Turn is one question/answer cycle. Fields are filled in as the turn
// advances; a turn is immutable once it has been appended to a Context.
type Turn struct {
	TurnID          int64
	Timestamp       time.Time
	Question        string
	GeneratedSQL    string
	ExecutionStatus ExecutionStatus
	ResultSummary   string
	FinalResponse   string
}

// Context is the append-only conversational record for one session.
// Turns are processed strictly sequentially, so no locking is needed.
type Context struct {
	sessionID string
	createdAt time.Time
	turns     []Turn
}

func NewContext() *Context {
	return &Context{
		sessionID: uuid.NewString(),
		createdAt: time.Now().UTC(),
	}
}

func (c *Context) SessionID() string {
	return c.sessionID
}

func (c *Context) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Context) Len() int {
	return len(c.turns)
}

// NextTurnID returns the identifier for the turn about to start.
// Turn IDs are monotonic within a session, starting at 1.
func (c *Context) NextTurnID() int64 {
	return int64(len(c.turns)) + 1
}

func (c *Context) Append(turn Turn) {
	c.turns = append(c.turns, turn)
}

// Recent returns the last window turns in chronological order.
// A window of zero or less, or one exceeding the session length,
// returns all turns. The returned slice is a copy.
func (c *Context) Recent(window int) []Turn {
	start := 0
	if window > 0 && window < len(c.turns) {
		start = len(c.turns) - window
	}
	recent := make([]Turn, len(c.turns)-start)
	copy(recent, c.turns[start:])
	return recent
}

func (c *Context) Clear() {
	c.turns = nil
}
