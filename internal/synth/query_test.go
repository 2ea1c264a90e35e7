package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/querytalk/querytalk/internal/llm"
	"github.com/querytalk/querytalk/internal/schema"
	"github.com/querytalk/querytalk/internal/session"
)

type fakeClient struct {
	completions []string
	err         error
	requests    []llm.Request
}

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.completions) == 0 {
		return "", fmt.Errorf("no scripted completion")
	}
	completion := f.completions[0]
	f.completions = f.completions[1:]
	return completion, nil
}

func testSnapshot() *schema.Snapshot {
	return &schema.Snapshot{Tables: []schema.Table{
		{
			Name: "customers",
			Columns: []schema.Column{
				{Name: "id", Type: "integer"},
				{Name: "email", Type: "text", Nullable: true},
			},
		},
	}}
}

func TestSynthesizeReturnsValidatedSQL(t *testing.T) {
	client := &fakeClient{completions: []string{"```sql\nSELECT email FROM customers LIMIT 5;\n```"}}
	synth := NewQuerySynthesizer(client, 5)

	sqlText, err := synth.Synthesize(context.Background(), "what are their emails?", testSnapshot(), nil, "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if sqlText != "SELECT email FROM customers LIMIT 5" {
		t.Fatalf("Synthesize() = %q", sqlText)
	}
}

func TestSynthesizePromptContainsSchemaHistoryAndQuestion(t *testing.T) {
	client := &fakeClient{completions: []string{"SELECT 1"}}
	synth := NewQuerySynthesizer(client, 5)

	history := []session.Turn{
		{
			TurnID:        1,
			Question:      "who are the top 5 customers by order count last month?",
			GeneratedSQL:  "SELECT name FROM customers LIMIT 5",
			FinalResponse: "The top customers are Alice, Bob, Carol, Dan and Eve.",
		},
	}
	if _, err := synth.Synthesize(context.Background(), "what are their emails?", testSnapshot(), history, ""); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	prompt := client.requests[0].User
	for _, want := range []string{
		"table customers",
		"email text nullable",
		"Q: who are the top 5 customers by order count last month?",
		"SQL: SELECT name FROM customers LIMIT 5",
		"A: The top customers are Alice, Bob, Carol, Dan and Eve.",
		"Question:\nwhat are their emails?",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSynthesizeWindowsHistory(t *testing.T) {
	client := &fakeClient{completions: []string{"SELECT 1"}}
	synth := NewQuerySynthesizer(client, 2)

	history := make([]session.Turn, 0, 6)
	for i := 1; i <= 6; i++ {
		history = append(history, session.Turn{
			TurnID:   int64(i),
			Question: fmt.Sprintf("question number %d", i),
		})
	}
	if _, err := synth.Synthesize(context.Background(), "next", testSnapshot(), history, ""); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	prompt := client.requests[0].User
	if strings.Contains(prompt, "question number 4") {
		t.Fatal("prompt should only contain the last 2 turns")
	}
	if !strings.Contains(prompt, "question number 5") || !strings.Contains(prompt, "question number 6") {
		t.Fatalf("prompt missing recent turns:\n%s", prompt)
	}
}

func TestSynthesizeIncludesErrorHint(t *testing.T) {
	client := &fakeClient{completions: []string{"SELECT 1"}}
	synth := NewQuerySynthesizer(client, 5)

	hint := `SQL: SELECT * FORM customers
error: syntax error at or near "FORM"`
	if _, err := synth.Synthesize(context.Background(), "list customers", testSnapshot(), nil, hint); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	prompt := client.requests[0].User
	if !strings.Contains(prompt, "The previous attempt failed") || !strings.Contains(prompt, `near "FORM"`) {
		t.Fatalf("prompt missing error hint:\n%s", prompt)
	}
}

func TestSynthesizeWrapsClientFailure(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("boom")}
	synth := NewQuerySynthesizer(client, 5)

	_, err := synth.Synthesize(context.Background(), "list customers", testSnapshot(), nil, "")
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("error = %v, want ErrSynthesisFailed", err)
	}
}

func TestExtractStatement(t *testing.T) {
	cases := []struct {
		name       string
		completion string
		want       string
		wantErr    bool
	}{
		{"plain select", "SELECT 1", "SELECT 1", false},
		{"fenced", "```sql\nSELECT 1;\n```", "SELECT 1", false},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", "WITH t AS (SELECT 1) SELECT * FROM t", false},
		{"column named like keyword", "SELECT updated_at, created_at FROM orders", "SELECT updated_at, created_at FROM orders", false},
		{"empty", "   ", "", true},
		{"prose only", "I cannot answer that.", "", true},
		{"multiple statements", "SELECT 1; SELECT 2", "", true},
		{"insert", "INSERT INTO customers VALUES (1)", "", true},
		{"delete hidden in select", "SELECT 1; DELETE FROM orders", "", true},
		{"drop", "DROP TABLE customers", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractStatement(tc.completion)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ExtractStatement(%q) expected error, got %q", tc.completion, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractStatement(%q) error = %v", tc.completion, err)
			}
			if got != tc.want {
				t.Fatalf("ExtractStatement(%q) = %q, want %q", tc.completion, got, tc.want)
			}
		})
	}
}
