package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort               = "8080"
	defaultDatabaseURL        = "file:mediaplan.db"
	defaultFrontendOrigin     = "http://localhost:5173"
	defaultOpenRouterBaseURL  = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel    = "openrouter/free"
	defaultGeminiModel        = "gemini-2.5-flash"
	defaultBraveBaseURL       = "https://api.search.brave.com/res/v1"
	defaultUploadDir          = "/tmp/mediaplan-uploads"
	defaultGCSUploadPrefix    = "mediaplan"
	defaultFetchTimeoutSecs   = 10
	defaultFetchMaxBytes      = 2 << 20
	defaultSearchRatePerSec   = 1
	defaultTurnTimeoutSecs    = 45
	defaultMaxBriefBytes      = 10 << 20
	defaultAnalysisRetryCount = 3
)

const (
	AnalysisAuto       = "auto"
	AnalysisOpenRouter = "openrouter"
	AnalysisGemini     = "gemini"
	AnalysisHeuristic  = "heuristic"

	StorageLocal = "local"
	StorageGCS   = "gcs"
)

type Config struct {
	Port              string
	Environment       string
	LogLevel          string
	FrontendOrigin    string
	AllowedOrigins    []string
	TursoDatabaseURL  string
	TursoAuthToken    string
	PolicyFile        string
	AnalysisProvider  string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string
	GeminiAPIKey      string
	GeminiModel       string
	BraveAPIKey       string
	BraveBaseURL      string
	SearchRatePerSec  float64
	FetchTimeout      time.Duration
	FetchMaxBytes     int64
	AnalysisRetries   int
	TurnTimeout       time.Duration
	StorageBackend    string
	LocalUploadDir    string
	GCSBucket         string
	GCSUploadPrefix   string
	MaxBriefBytes     int64
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Production() bool {
	return c.Environment == "production"
}

func Load() (Config, error) {
	cfg := Config{
		Port:              envOrDefault("PORT", defaultPort),
		Environment:       envOrDefault("APP_ENV", "development"),
		LogLevel:          strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		FrontendOrigin:    envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),
		TursoDatabaseURL:  envOrDefault("TURSO_DATABASE_URL", defaultDatabaseURL),
		TursoAuthToken:    strings.TrimSpace(os.Getenv("TURSO_AUTH_TOKEN")),
		PolicyFile:        strings.TrimSpace(os.Getenv("POLICY_FILE")),
		AnalysisProvider:  strings.ToLower(envOrDefault("ANALYSIS_PROVIDER", AnalysisAuto)),
		OpenRouterAPIKey:  strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL: envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		OpenRouterModel:   envOrDefault("OPENROUTER_MODEL", defaultOpenRouterModel),
		GeminiAPIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:       envOrDefault("GEMINI_MODEL", defaultGeminiModel),
		BraveAPIKey:       strings.TrimSpace(os.Getenv("BRAVE_API_KEY")),
		BraveBaseURL:      envOrDefault("BRAVE_BASE_URL", defaultBraveBaseURL),
		SearchRatePerSec:  floatOrDefault("SEARCH_RATE_PER_SECOND", defaultSearchRatePerSec),
		FetchTimeout:      time.Duration(intOrDefault("FETCH_TIMEOUT_SECONDS", defaultFetchTimeoutSecs)) * time.Second,
		FetchMaxBytes:     int64(intOrDefault("FETCH_MAX_BYTES", defaultFetchMaxBytes)),
		AnalysisRetries:   intOrDefault("ANALYSIS_RETRIES", defaultAnalysisRetryCount),
		TurnTimeout:       time.Duration(intOrDefault("TURN_TIMEOUT_SECONDS", defaultTurnTimeoutSecs)) * time.Second,
		StorageBackend:    strings.ToLower(envOrDefault("STORAGE_BACKEND", StorageLocal)),
		LocalUploadDir:    envOrDefault("LOCAL_UPLOAD_DIR", defaultUploadDir),
		GCSBucket:         strings.TrimSpace(os.Getenv("GCS_BUCKET")),
		GCSUploadPrefix:   envOrDefault("GCS_UPLOAD_PREFIX", defaultGCSUploadPrefix),
		MaxBriefBytes:     int64(intOrDefault("MAX_BRIEF_BYTES", defaultMaxBriefBytes)),
	}
	cfg.AllowedOrigins = parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:4173"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin"))
	}
	if strings.HasPrefix(c.TursoDatabaseURL, "libsql://") && c.TursoAuthToken == "" {
		errs = append(errs, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs"))
	}

	switch c.AnalysisProvider {
	case AnalysisAuto, AnalysisHeuristic:
	case AnalysisOpenRouter:
		if c.OpenRouterAPIKey == "" {
			errs = append(errs, errors.New("OPENROUTER_API_KEY is required when ANALYSIS_PROVIDER=openrouter"))
		}
	case AnalysisGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when ANALYSIS_PROVIDER=gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("ANALYSIS_PROVIDER %q is not one of auto, openrouter, gemini, heuristic", c.AnalysisProvider))
	}

	switch c.StorageBackend {
	case StorageLocal:
		if strings.TrimSpace(c.LocalUploadDir) == "" {
			errs = append(errs, errors.New("LOCAL_UPLOAD_DIR must not be empty"))
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required when STORAGE_BACKEND=gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q is not one of local, gcs", c.StorageBackend))
	}

	if c.SearchRatePerSec <= 0 {
		errs = append(errs, errors.New("SEARCH_RATE_PER_SECOND must be > 0"))
	}
	if c.FetchTimeout <= 0 || c.TurnTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT_SECONDS and TURN_TIMEOUT_SECONDS must be > 0"))
	}
	if c.FetchMaxBytes <= 0 || c.MaxBriefBytes <= 0 {
		errs = append(errs, errors.New("FETCH_MAX_BYTES and MAX_BRIEF_BYTES must be > 0"))
	}
	if c.AnalysisRetries < 0 {
		errs = append(errs, errors.New("ANALYSIS_RETRIES must be >= 0"))
	}
	return errors.Join(errs...)
}

// ResolvedAnalysisProvider picks a concrete provider for "auto": OpenRouter
// when keyed, then Gemini, then the offline heuristic.
func (c Config) ResolvedAnalysisProvider() string {
	if c.AnalysisProvider != AnalysisAuto {
		return c.AnalysisProvider
	}
	switch {
	case c.OpenRouterAPIKey != "":
		return AnalysisOpenRouter
	case c.GeminiAPIKey != "":
		return AnalysisGemini
	default:
		return AnalysisHeuristic
	}
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatOrDefault(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
