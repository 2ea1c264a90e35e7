package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/querytalk/querytalk/internal/executor"
	"github.com/querytalk/querytalk/internal/llm"
)

const responseSystemPrompt = "You answer a user's question from the result of a SQL query they cannot see. " +
	"Describe only the rows given. " +
	"If the result contains no rows, say that no matching data was found. " +
	"Never invent values that are not in the result."

// ResponseSynthesizer turns an execution result into a natural-language
// answer. It is only invoked for successful executions.
type ResponseSynthesizer struct {
	client   llm.Client
	maxRows  int
	maxBytes int
}

func NewResponseSynthesizer(client llm.Client, maxRows, maxBytes int) *ResponseSynthesizer {
	if maxRows <= 0 {
		maxRows = 50
	}
	if maxBytes <= 0 {
		maxBytes = 8192
	}
	return &ResponseSynthesizer{client: client, maxRows: maxRows, maxBytes: maxBytes}
}

func (s *ResponseSynthesizer) Synthesize(ctx context.Context, question string, result executor.Result) (string, error) {
	rendered := RenderResult(result, s.maxRows, s.maxBytes)

	answer, err := s.client.Complete(ctx, llm.Request{
		System: responseSystemPrompt,
		User:   fmt.Sprintf("Question:\n%s\n\nQuery result:\n%s\n", strings.TrimSpace(question), rendered),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("response synthesis: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("response synthesis: model returned empty answer")
	}
	return answer, nil
}

// RenderResult renders rows as a pipe-separated table bounded by both a
// row cap and a byte cap, with an explicit marker for omitted rows.
func RenderResult(result executor.Result, maxRows, maxBytes int) string {
	if len(result.Rows) == 0 {
		return "(no rows returned)"
	}

	var b strings.Builder
	header := strings.Join(result.Columns, " | ")
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(header)))
	b.WriteString("\n")

	shown := 0
	for _, row := range result.Rows {
		if maxRows > 0 && shown >= maxRows {
			break
		}
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = renderCell(cell)
		}
		line := strings.Join(cells, " | ") + "\n"
		if maxBytes > 0 && b.Len()+len(line) > maxBytes {
			break
		}
		b.WriteString(line)
		shown++
	}

	if omitted := len(result.Rows) - shown; omitted > 0 {
		fmt.Fprintf(&b, "... (%d more rows omitted)\n", omitted)
	}
	return b.String()
}

func renderCell(value any) string {
	if value == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", value)
}
