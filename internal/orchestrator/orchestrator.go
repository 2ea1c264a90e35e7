package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/querytalk/querytalk/internal/executor"
	"github.com/querytalk/querytalk/internal/history"
	"github.com/querytalk/querytalk/internal/observability"
	"github.com/querytalk/querytalk/internal/schema"
	"github.com/querytalk/querytalk/internal/session"
	"github.com/querytalk/querytalk/internal/synth"
)

// State names one phase of a turn. Every turn moves
// Idle -> Synthesizing -> Executing -> {Responding | Failing} ->
// Recording -> Done; a syntax error allows one Executing ->
// Synthesizing loop.
type State string

const (
	StateIdle         State = "idle"
	StateSynthesizing State = "synthesizing"
	StateExecuting    State = "executing"
	StateResponding   State = "responding"
	StateFailing      State = "failing"
	StateRecording    State = "recording"
	StateDone         State = "done"
)

const (
	msgSchemaUnavailable = "Sorry, I could not read the database schema right now. Please try again."
	msgSynthesisFailed   = "Sorry, I could not translate that question into a database query."
	msgResponseFailed    = "The query ran successfully, but I could not summarize the result."
)

type SchemaProvider interface {
	Snapshot(ctx context.Context, forceRefresh bool) (*schema.Snapshot, error)
}

type QuerySynthesizer interface {
	Synthesize(ctx context.Context, question string, snapshot *schema.Snapshot, turns []session.Turn, errorHint string) (string, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, sqlText string) (executor.Result, error)
}

type ResponseSynthesizer interface {
	Synthesize(ctx context.Context, question string, result executor.Result) (string, error)
}

// Outcome is what one completed turn hands back to the front-end. A
// non-empty Warning reports a history write failure; it never replaces
// or alters Response.
type Outcome struct {
	Response string
	Warning  string
	Turn     session.Turn
}

// Orchestrator drives one turn at a time through the state machine.
// Turns are strictly sequential within a session.
type Orchestrator struct {
	Schema    SchemaProvider
	Queries   QuerySynthesizer
	Exec      QueryExecutor
	Responses ResponseSynthesizer
	History   history.Recorder
	Context   *session.Context
	Logger    *slog.Logger

	// Caps for the stored result summary.
	SummaryRows  int
	SummaryBytes int

	now func() time.Time
}

func New(schemaProvider SchemaProvider, queries QuerySynthesizer, exec QueryExecutor, responses ResponseSynthesizer, recorder history.Recorder, sess *session.Context, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		Schema:       schemaProvider,
		Queries:      queries,
		Exec:         exec,
		Responses:    responses,
		History:      recorder,
		Context:      sess,
		Logger:       logger,
		SummaryRows:  20,
		SummaryBytes: 4096,
		now:          time.Now,
	}
}

// Respond runs one question through to its terminal outcome. A
// cancelled context abandons the turn entirely: nothing is recorded and
// nothing is appended to the conversation.
func (o *Orchestrator) Respond(ctx context.Context, question string) (Outcome, error) {
	turn := session.Turn{
		TurnID:          o.Context.NextTurnID(),
		Timestamp:       o.now().UTC(),
		Question:        question,
		ExecutionStatus: session.StatusNotAttempted,
	}
	state := o.transition(turn.TurnID, StateIdle, StateSynthesizing)

	snapshot, err := o.Schema.Snapshot(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		o.Logger.Error("schema snapshot failed", slog.Int64("turn_id", turn.TurnID), slog.Any("error", err))
		turn.FinalResponse = msgSchemaUnavailable
		o.transition(turn.TurnID, state, StateFailing)
		return o.finish(ctx, turn, StateFailing, "schema_unavailable")
	}

	turns := o.Context.Recent(0)
	sqlText, err := o.Queries.Synthesize(ctx, question, snapshot, turns, "")
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		o.Logger.Warn("query synthesis failed", slog.Int64("turn_id", turn.TurnID), slog.Any("error", err))
		turn.FinalResponse = msgSynthesisFailed
		o.transition(turn.TurnID, state, StateFailing)
		return o.finish(ctx, turn, StateFailing, "synthesis_failed")
	}
	turn.GeneratedSQL = sqlText
	state = o.transition(turn.TurnID, state, StateExecuting)

	result, err := o.Exec.Execute(ctx, sqlText)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		var execErr *executor.ExecError
		if errors.As(err, &execErr) && execErr.Kind == executor.KindSyntax {
			// One corrective loop, feeding the failure back to the model.
			observability.ObserveResynthesis()
			state = o.transition(turn.TurnID, state, StateSynthesizing)
			hint := fmt.Sprintf("SQL: %s\nerror: %s", sqlText, execErr.Message)
			retrySQL, retryErr := o.Queries.Synthesize(ctx, question, snapshot, turns, hint)
			if retryErr != nil {
				if ctx.Err() != nil {
					return Outcome{}, ctx.Err()
				}
				err = retryErr
			} else {
				turn.GeneratedSQL = retrySQL
				state = o.transition(turn.TurnID, state, StateExecuting)
				result, err = o.Exec.Execute(ctx, retrySQL)
			}
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		o.Logger.Warn("turn failed", slog.Int64("turn_id", turn.TurnID), slog.Any("error", err))
		turn.ExecutionStatus = session.StatusFailed
		turn.FinalResponse = formatFailure(err)
		o.transition(turn.TurnID, state, StateFailing)
		return o.finish(ctx, turn, StateFailing, "execution_failed")
	}

	turn.ExecutionStatus = session.StatusSucceeded
	turn.ResultSummary = synth.RenderResult(result, o.SummaryRows, o.SummaryBytes)
	state = o.transition(turn.TurnID, state, StateResponding)

	answer, err := o.Responses.Synthesize(ctx, question, result)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		o.Logger.Warn("response synthesis failed", slog.Int64("turn_id", turn.TurnID), slog.Any("error", err))
		turn.FinalResponse = msgResponseFailed + "\n" + turn.ResultSummary
		o.transition(turn.TurnID, state, StateFailing)
		return o.finish(ctx, turn, StateFailing, "response_failed")
	}
	turn.FinalResponse = answer
	return o.finish(ctx, turn, state, "answered")
}

// finish records the terminal turn and appends it to the conversation.
// A persistence failure becomes a warning; it never suppresses the
// response. Recording itself is shielded from cancellation so a turn
// that reached a terminal state is written exactly once.
func (o *Orchestrator) finish(ctx context.Context, turn session.Turn, state State, outcome string) (Outcome, error) {
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	state = o.transition(turn.TurnID, state, StateRecording)

	warning := ""
	recordCtx := context.WithoutCancel(ctx)
	if err := o.History.Record(recordCtx, history.FromTurn(o.Context.SessionID(), turn)); err != nil {
		observability.ObserveHistoryWriteFailure()
		o.Logger.Warn("history record failed", slog.Int64("turn_id", turn.TurnID), slog.Any("error", err))
		warning = fmt.Sprintf("this interaction could not be recorded: %v", err)
	}

	o.transition(turn.TurnID, state, StateDone)
	observability.ObserveTurn(outcome)
	o.Context.Append(turn)

	return Outcome{
		Response: turn.FinalResponse,
		Warning:  warning,
		Turn:     turn,
	}, nil
}

func (o *Orchestrator) transition(turnID int64, from, to State) State {
	o.Logger.Debug("turn transition",
		slog.Int64("turn_id", turnID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return to
}

func formatFailure(err error) string {
	var execErr *executor.ExecError
	if !errors.As(err, &execErr) {
		return msgSynthesisFailed
	}
	switch execErr.Kind {
	case executor.KindSyntax:
		return fmt.Sprintf("The generated query was not valid SQL: %s", execErr.Message)
	case executor.KindPermission:
		return fmt.Sprintf("The query was rejected by the database: %s", execErr.Message)
	case executor.KindTimeout:
		return "The query took too long and was cancelled."
	case executor.KindConnectionLost:
		return "The database connection was lost while running the query."
	default:
		return fmt.Sprintf("The query failed: %s", execErr.Message)
	}
}
