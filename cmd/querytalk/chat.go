package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/querytalk/querytalk/internal/config"
	"github.com/querytalk/querytalk/internal/db"
	"github.com/querytalk/querytalk/internal/executor"
	"github.com/querytalk/querytalk/internal/history"
	"github.com/querytalk/querytalk/internal/llm"
	"github.com/querytalk/querytalk/internal/observability"
	"github.com/querytalk/querytalk/internal/orchestrator"
	"github.com/querytalk/querytalk/internal/schema"
	"github.com/querytalk/querytalk/internal/session"
	"github.com/querytalk/querytalk/internal/synth"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive question-and-answer session",
	Long: `Start an interactive session against the configured database.

Type a question and press enter; type "exit" or "quit" to leave.
Ctrl-C cancels the question currently in flight without ending the
session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func runChat() error {
	cfg, err := config.LoadFromEnv("querytalk")
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	observability.StartMetricsServer(ctx, cfg.Observability.MetricsAddr, logger)

	client, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		Timeout:      cfg.LLM.Timeout,
		MaxAttempts:  cfg.LLM.MaxAttempts,
		RetryBackoff: cfg.LLM.RetryBackoff,
	})
	if err != nil {
		return err
	}

	recorder, closeRecorder, err := newRecorder(cfg, conn)
	if err != nil {
		return err
	}
	defer closeRecorder()

	sess := session.NewContext()
	orch := orchestrator.New(
		schema.NewProvider(conn, cfg.Chat.SchemaRefreshInterval),
		synth.NewQuerySynthesizer(client, cfg.Chat.HistoryWindow),
		executor.New(conn, cfg.Database.StatementTimeout),
		synth.NewResponseSynthesizer(client, cfg.Chat.MaxResultRows, cfg.Chat.MaxResultBytes),
		recorder,
		sess,
		logger,
	)
	orch.SummaryRows = cfg.Chat.MaxResultRows
	orch.SummaryBytes = cfg.Chat.MaxResultBytes

	logger.Info("session started",
		slog.String("session_id", sess.SessionID()),
		slog.String("model", cfg.LLM.Model),
	)
	fmt.Printf("querytalk %s (session %s)\n", version, sess.SessionID())
	fmt.Println(`Ask a question, or type "exit" to leave.`)

	return repl(ctx, orch, os.Stdin, os.Stdout, os.Stderr)
}

func newRecorder(cfg config.Config, conn *sql.DB) (history.Recorder, func(), error) {
	switch cfg.History.Backend {
	case config.HistoryBackendFile:
		recorder, err := history.NewFileRecorder(cfg.History.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return recorder, func() { _ = recorder.Close() }, nil
	default:
		return history.NewRepository(conn), func() {}, nil
	}
}

// repl reads questions line by line until EOF, an exit sentinel, or
// the parent context ends. SIGINT cancels only the turn in flight.
func repl(ctx context.Context, orch *orchestrator.Orchestrator, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "querytalk> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if isExit(question) {
			fmt.Fprintln(out, "Goodbye.")
			return nil
		}

		turnCtx, stopTurn := signal.NotifyContext(ctx, os.Interrupt)
		outcome, err := orch.Respond(turnCtx, question)
		stopTurn()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "(cancelled)")
				continue
			}
			return err
		}

		fmt.Fprintln(out, outcome.Response)
		if outcome.Warning != "" {
			fmt.Fprintf(errOut, "warning: %s\n", outcome.Warning)
		}
	}
}

func isExit(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit":
		return true
	}
	return false
}
