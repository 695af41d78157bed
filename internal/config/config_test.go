package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "DB_DSN", "CHAT_CONTEXT_WINDOW_SIZE", "AI_PRIMARY_MODEL", "AI_FALLBACK_MODEL", "AI_CALL_TIMEOUT", "WORKER_CONCURRENCY"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.DBDriver != "mysql" {
		t.Fatalf("DBDriver = %q, want mysql", cfg.DBDriver)
	}
	if cfg.ChatContextWindowSize != 20 {
		t.Fatalf("ChatContextWindowSize = %d, want 20", cfg.ChatContextWindowSize)
	}
	if cfg.AIPrimaryModel != "gemini-2.5-flash" || cfg.AIFallbackModel != "gemini-2.0-flash" {
		t.Fatalf("unexpected models: %q / %q", cfg.AIPrimaryModel, cfg.AIFallbackModel)
	}
	if cfg.AICallTimeout != 30*time.Second {
		t.Fatalf("AICallTimeout = %s", cfg.AICallTimeout)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Fatalf("WorkerConcurrency = %d, want 2", cfg.WorkerConcurrency)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "")
	t.Setenv("CHAT_CONTEXT_WINDOW_SIZE", "500")
	t.Setenv("AI_CALL_TIMEOUT", "5s")
	t.Setenv("WORKER_CONCURRENCY", "99")
	t.Setenv("RATE_LIMIT_RPS", "0.5")

	cfg := Load()
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.DBDSN == "" {
		t.Fatalf("expected default sqlite dsn")
	}
	if cfg.ChatContextWindowSize != 20 {
		t.Fatalf("out of range window should reset to 20, got %d", cfg.ChatContextWindowSize)
	}
	if cfg.AICallTimeout != 5*time.Second {
		t.Fatalf("AICallTimeout = %s, want 5s", cfg.AICallTimeout)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("WorkerConcurrency = %d, want capped 50", cfg.WorkerConcurrency)
	}
	if cfg.RateLimitRPS != 0.5 {
		t.Fatalf("RateLimitRPS = %v", cfg.RateLimitRPS)
	}
}

func TestLoad_AliasSecretFallsBackToJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-s")
	t.Setenv("FORUM_ALIAS_SECRET", "")
	if cfg := Load(); cfg.AliasSecret != "jwt-s" {
		t.Fatalf("AliasSecret = %q, want jwt-s", cfg.AliasSecret)
	}
	t.Setenv("FORUM_ALIAS_SECRET", "alias-s")
	if cfg := Load(); cfg.AliasSecret != "alias-s" {
		t.Fatalf("AliasSecret = %q, want alias-s", cfg.AliasSecret)
	}
}

func TestLoad_CORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOW_ORIGINS", "")
	if cfg := Load(); len(cfg.CORSAllowOrigins) != 1 || cfg.CORSAllowOrigins[0] != "*" {
		t.Fatalf("default origins = %v", cfg.CORSAllowOrigins)
	}
	t.Setenv("CORS_ALLOW_ORIGINS", " https://app.example , ,https://admin.example")
	cfg := Load()
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "https://admin.example" {
		t.Fatalf("origins = %v", cfg.CORSAllowOrigins)
	}
}
