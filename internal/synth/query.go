package synth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/querytalk/querytalk/internal/llm"
	"github.com/querytalk/querytalk/internal/schema"
	"github.com/querytalk/querytalk/internal/session"
)

// ErrSynthesisFailed marks a turn where no usable query could be
// produced: the model call failed, or its output did not pass the
// single-read-only-statement gate.
var ErrSynthesisFailed = errors.New("query synthesis failed")

const querySystemPrompt = "You convert natural language questions into a single PostgreSQL SELECT query. " +
	"Use only the tables and columns in the provided schema. " +
	"Resolve references like \"those\" or \"their\" using the prior conversation. " +
	"Return ONLY SQL. No markdown, no explanation."

var mutatingKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|copy)\b`)

// QuerySynthesizer builds one prompt per call from the schema snapshot,
// the recent conversation window and the current question, and
// post-processes the completion into exactly one read-only statement.
type QuerySynthesizer struct {
	client llm.Client
	window int
}

func NewQuerySynthesizer(client llm.Client, window int) *QuerySynthesizer {
	if window <= 0 {
		window = 5
	}
	return &QuerySynthesizer{client: client, window: window}
}

// Synthesize returns a single validated SQL statement. errorHint, when
// non-empty, carries the failing SQL and database error from a prior
// attempt within the same turn.
func (s *QuerySynthesizer) Synthesize(ctx context.Context, question string, snapshot *schema.Snapshot, history []session.Turn, errorHint string) (string, error) {
	prompt := s.buildPrompt(question, snapshot, history, errorHint)

	completion, err := s.client.Complete(ctx, llm.Request{
		System: querySystemPrompt,
		User:   prompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	sqlText, err := ExtractStatement(completion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	return sqlText, nil
}

func (s *QuerySynthesizer) buildPrompt(question string, snapshot *schema.Snapshot, history []session.Turn, errorHint string) string {
	var b strings.Builder
	b.WriteString("Database schema:\n")
	b.WriteString(snapshot.Describe())
	b.WriteString("\n")

	if window := recentWindow(history, s.window); len(window) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range window {
			fmt.Fprintf(&b, "Q: %s\n", turn.Question)
			if turn.GeneratedSQL != "" {
				fmt.Fprintf(&b, "SQL: %s\n", turn.GeneratedSQL)
			}
			if turn.FinalResponse != "" {
				fmt.Fprintf(&b, "A: %s\n", turn.FinalResponse)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question:\n%s\n", strings.TrimSpace(question))

	if errorHint != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed:\n%s\nProduce a corrected query.\n", errorHint)
	}

	b.WriteString("\nRules:\n- Output a single read-only SQL statement.\n- No INSERT, UPDATE, DELETE, DDL or other mutating statements.\n")
	return b.String()
}

func recentWindow(history []session.Turn, window int) []session.Turn {
	if window > 0 && window < len(history) {
		return history[len(history)-window:]
	}
	return history
}

// ExtractStatement strips markdown fences and validates that the
// completion is exactly one read-only statement. This gate is
// independent of the database role restriction.
func ExtractStatement(completion string) (string, error) {
	sqlText := stripMarkdownSQL(completion)
	sqlText = strings.TrimSpace(sqlText)
	for strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSpace(strings.TrimSuffix(sqlText, ";"))
	}
	if sqlText == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	if strings.Contains(sqlText, ";") {
		return "", fmt.Errorf("model returned more than one statement")
	}

	lowered := strings.ToLower(sqlText)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return "", fmt.Errorf("only SELECT/WITH statements are allowed")
	}
	if match := mutatingKeywords.FindString(sqlText); match != "" {
		return "", fmt.Errorf("mutating keyword %q is not allowed", strings.ToLower(match))
	}
	return sqlText, nil
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
