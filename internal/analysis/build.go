package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mediaplan/backend/internal/brave"
	"mediaplan/backend/internal/config"
	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/metrics"
	"mediaplan/backend/internal/openrouter"
	"mediaplan/backend/internal/policy"
)

// NewFromConfig wires the fetcher, the optional Brave searcher and the
// responder picked by cfg.ResolvedAnalysisProvider behind a Memo.
func NewFromConfig(ctx context.Context, cfg config.Config, p *policy.Policy, log *logger.LogMiddleware, recorder metrics.Recorder) (*Memo, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	serviceCfg := ServiceConfig{
		Fetcher: NewHTTPFetcher(FetcherConfig{RequestTimeout: cfg.FetchTimeout, MaxBytes: cfg.FetchMaxBytes}, nil),
		Policy:  p,
		Logger:  log,
		Retries: cfg.AnalysisRetries,
	}

	if searcher := brave.NewClient(cfg, nil); searcher.Configured() {
		serviceCfg.Searcher = searcher
	}

	provider := cfg.ResolvedAnalysisProvider()
	switch provider {
	case config.AnalysisOpenRouter:
		client := openrouter.NewClient(cfg, nil)
		if !client.Configured() {
			return nil, fmt.Errorf("analysis provider %q: %w", provider, openrouter.ErrMissingAPIKey)
		}
		serviceCfg.Responder = NewOpenRouterResponder(client, cfg.OpenRouterModel)
	case config.AnalysisGemini:
		responder, err := NewGeminiResponder(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("analysis provider %q: %w", provider, err)
		}
		serviceCfg.Responder = responder
	case config.AnalysisHeuristic:
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", provider)
	}

	service, err := NewService(serviceCfg)
	if err != nil {
		return nil, err
	}

	log.Logger(ctx).Info("[Analysis] Gateway ready",
		zap.String("provider", provider),
		zap.Bool("search", serviceCfg.Searcher != nil),
		zap.Duration("timeout", p.AnalysisTimeout),
	)
	return NewMemo(service,
		WithTimeout(p.AnalysisTimeout),
		WithMetrics(recorder),
		WithLogger(log),
	), nil
}
