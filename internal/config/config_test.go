package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var managedKeys = []string{
	"PORT", "APP_ENV", "TURSO_DATABASE_URL", "TURSO_AUTH_TOKEN", "ANALYSIS_PROVIDER",
	"OPENROUTER_API_KEY", "GEMINI_API_KEY", "BRAVE_API_KEY", "STORAGE_BACKEND", "GCS_BUCKET",
	"CORS_ALLOWED_ORIGINS", "SEARCH_RATE_PER_SECOND", "TURN_TIMEOUT_SECONDS",
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range managedKeys {
		unsetIfSet(t, key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenAddress() != ":8080" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress())
	}
	if cfg.TursoDatabaseURL != "file:mediaplan.db" {
		t.Fatalf("unexpected database url: %s", cfg.TursoDatabaseURL)
	}
	if cfg.OpenRouterBaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected openrouter base url: %s", cfg.OpenRouterBaseURL)
	}
	if cfg.BraveBaseURL != "https://api.search.brave.com/res/v1" {
		t.Fatalf("unexpected brave base url: %s", cfg.BraveBaseURL)
	}
	if cfg.GCSUploadPrefix != "mediaplan" {
		t.Fatalf("unexpected gcs upload prefix: %s", cfg.GCSUploadPrefix)
	}
	if cfg.TurnTimeout != 45*time.Second {
		t.Fatalf("unexpected turn timeout: %v", cfg.TurnTimeout)
	}
	if cfg.ResolvedAnalysisProvider() != AnalysisHeuristic {
		t.Fatalf("expected heuristic provider without keys, got %s", cfg.ResolvedAnalysisProvider())
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("unexpected default origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadRequiresTursoTokenForLibsql(t *testing.T) {
	t.Setenv("TURSO_DATABASE_URL", "libsql://plans.example.turso.io")
	t.Setenv("TURSO_AUTH_TOKEN", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TURSO_AUTH_TOKEN") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestLoadRequiresBucketForGCS(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "gcs")
	t.Setenv("GCS_BUCKET", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "GCS_BUCKET") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("ANALYSIS_PROVIDER", "crystal-ball")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown analysis provider")
	}
}

func TestLoadRequiresKeyForExplicitProvider(t *testing.T) {
	t.Setenv("ANALYSIS_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when GEMINI_API_KEY is missing")
	}
}

func TestResolvedAnalysisProviderPrefersOpenRouter(t *testing.T) {
	cfg := Config{AnalysisProvider: AnalysisAuto, OpenRouterAPIKey: "or-key", GeminiAPIKey: "g-key"}
	if got := cfg.ResolvedAnalysisProvider(); got != AnalysisOpenRouter {
		t.Fatalf("expected openrouter, got %s", got)
	}

	cfg.OpenRouterAPIKey = ""
	if got := cfg.ResolvedAnalysisProvider(); got != AnalysisGemini {
		t.Fatalf("expected gemini, got %s", got)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SEARCH_RATE_PER_SECOND", "fast")
	t.Setenv("TURN_TIMEOUT_SECONDS", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SearchRatePerSec != 1 || cfg.TurnTimeout != 45*time.Second {
		t.Fatalf("expected fallbacks, got %v and %v", cfg.SearchRatePerSec, cfg.TurnTimeout)
	}
}

func unsetIfSet(t *testing.T, key string) {
	t.Helper()
	if value, ok := os.LookupEnv(key); ok {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset env %s: %v", key, err)
		}
		t.Cleanup(func() { _ = os.Setenv(key, value) })
	}
}
