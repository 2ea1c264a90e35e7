package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("querytalk", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.StatementTimeout != 30*time.Second {
		t.Fatalf("Database.StatementTimeout = %v", cfg.Database.StatementTimeout)
	}
	if cfg.LLM.Model != "gpt-5" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxAttempts != 3 {
		t.Fatalf("LLM.MaxAttempts = %d", cfg.LLM.MaxAttempts)
	}
	if cfg.Chat.HistoryWindow != 5 {
		t.Fatalf("Chat.HistoryWindow = %d", cfg.Chat.HistoryWindow)
	}
	if cfg.Chat.MaxResultRows != 50 {
		t.Fatalf("Chat.MaxResultRows = %d", cfg.Chat.MaxResultRows)
	}
	if cfg.History.Backend != HistoryBackendPostgres {
		t.Fatalf("History.Backend = %q", cfg.History.Backend)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYTALK_PROFILE":     "prod",
		"QUERYTALK_LLM_API_KEY": "sk-test",
	})
	cfg, err := Load("querytalk", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true in prod")
	}
}

func TestLoadProdRequiresAPIKey(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYTALK_PROFILE": "prod"})
	if _, err := Load("querytalk", lookup); err == nil {
		t.Fatal("expected error for missing llm api key in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYTALK_PROFILE":                     "test",
		"QUERYTALK_DATABASE_URL":                "postgres://example",
		"QUERYTALK_DATABASE_STATEMENT_TIMEOUT":  "5s",
		"QUERYTALK_LLM_BASE_URL":                "http://localhost:11434",
		"QUERYTALK_LLM_MODEL":                   "llama3",
		"QUERYTALK_LLM_MAX_ATTEMPTS":            "5",
		"QUERYTALK_LLM_RETRY_BACKOFF":           "250ms",
		"QUERYTALK_CHAT_HISTORY_WINDOW":         "8",
		"QUERYTALK_CHAT_MAX_RESULT_ROWS":        "10",
		"QUERYTALK_CHAT_SCHEMA_REFRESH_INTERVAL": "1m",
		"QUERYTALK_HISTORY_BACKEND":             "file",
		"QUERYTALK_HISTORY_FILE_PATH":           "/tmp/history.jsonl",
		"QUERYTALK_LOG_LEVEL":                   "error",
		"QUERYTALK_METRICS_ADDR":                ":9090",
	})
	cfg, err := Load("querytalk", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Database.StatementTimeout != 5*time.Second {
		t.Fatalf("Database.StatementTimeout = %v", cfg.Database.StatementTimeout)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Fatalf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "llama3" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxAttempts != 5 {
		t.Fatalf("LLM.MaxAttempts = %d", cfg.LLM.MaxAttempts)
	}
	if cfg.LLM.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("LLM.RetryBackoff = %v", cfg.LLM.RetryBackoff)
	}
	if cfg.Chat.HistoryWindow != 8 {
		t.Fatalf("Chat.HistoryWindow = %d", cfg.Chat.HistoryWindow)
	}
	if cfg.Chat.SchemaRefreshInterval != time.Minute {
		t.Fatalf("Chat.SchemaRefreshInterval = %v", cfg.Chat.SchemaRefreshInterval)
	}
	if cfg.History.Backend != HistoryBackendFile {
		t.Fatalf("History.Backend = %q", cfg.History.Backend)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.MetricsAddr != ":9090" {
		t.Fatalf("MetricsAddr = %q", cfg.Observability.MetricsAddr)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYTALK_PROFILE": "staging"})
	if _, err := Load("querytalk", lookup); err == nil {
		t.Fatal("expected error for invalid profile")
	}
}

func TestLoadRejectsInvalidHistoryBackend(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYTALK_HISTORY_BACKEND": "redis"})
	if _, err := Load("querytalk", lookup); err == nil {
		t.Fatal("expected error for invalid history backend")
	}
}

func TestLoadFileBackendRequiresPath(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYTALK_HISTORY_BACKEND": "file"})
	if _, err := Load("querytalk", lookup); err == nil {
		t.Fatal("expected error for file backend without path")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYTALK_LLM_TIMEOUT": "soon"})
	if _, err := Load("querytalk", lookup); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
