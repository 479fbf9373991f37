// Package analysis resolves a business website into the facts the channel
// recommendation needs: industry, products, audience and competitors.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediaplan/backend/internal/brave"
	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/policy"
)

const (
	defaultRetries       = 2
	defaultRetryInterval = 500 * time.Millisecond
	defaultSearchResults = 5
	maxPromptPageRunes   = 6_000
)

// Gateway is what the conversation controller calls when it reaches the
// analysis stage.
type Gateway interface {
	Analyze(ctx context.Context, url string) (mediaplan.BusinessInfo, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

type Searcher interface {
	Search(ctx context.Context, q brave.Query) ([]brave.SearchResult, error)
}

type ServiceConfig struct {
	Fetcher Fetcher
	// Searcher and Responder are optional. Without a responder the service
	// classifies with policy keywords only.
	Searcher      Searcher
	Responder     Responder
	Policy        *policy.Policy
	Logger        *logger.LogMiddleware
	Retries       int
	RetryInterval time.Duration
	SearchResults int
}

// Service fetches the homepage and searches for competitors in parallel,
// then asks the responder to classify what it found.
type Service struct {
	fetcher       Fetcher
	searcher      Searcher
	responder     Responder
	policy        *policy.Policy
	log           *logger.LogMiddleware
	retries       int
	retryInterval time.Duration
	searchResults int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("analysis: fetcher is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("analysis: policy is required")
	}
	svc := &Service{
		fetcher:       cfg.Fetcher,
		searcher:      cfg.Searcher,
		responder:     cfg.Responder,
		policy:        cfg.Policy,
		log:           cfg.Logger,
		retries:       cfg.Retries,
		retryInterval: cfg.RetryInterval,
		searchResults: cfg.SearchResults,
	}
	if svc.log == nil {
		svc.log = logger.NewNop()
	}
	if svc.retries < 0 {
		svc.retries = defaultRetries
	}
	if svc.retryInterval <= 0 {
		svc.retryInterval = defaultRetryInterval
	}
	if svc.searchResults <= 0 {
		svc.searchResults = defaultSearchResults
	}
	return svc, nil
}

func (s *Service) Analyze(ctx context.Context, rawURL string) (mediaplan.BusinessInfo, error) {
	ctx, span := otel.Tracer("analysis/Service").Start(ctx, "Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("analysis.url", rawURL))

	if _, err := checkSiteURL(rawURL); err != nil {
		return mediaplan.BusinessInfo{}, &mediaplan.AnalysisError{Kind: mediaplan.AnalysisUnreachable, URL: rawURL, Err: err}
	}

	var (
		page      Page
		fetchErr  error
		results   []brave.SearchResult
		searchErr error
	)
	// Neither branch fails the group; each keeps its own error so a dead
	// search never hides a good homepage.
	var g errgroup.Group
	g.Go(func() error {
		page, fetchErr = s.fetch(ctx, rawURL)
		return nil
	})
	if s.searcher != nil {
		g.Go(func() error {
			results, searchErr = s.search(ctx, rawURL)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return mediaplan.BusinessInfo{}, err
	}
	if searchErr != nil {
		s.log.Logger(ctx).Warn("[Analysis] Competitor search failed", zap.String("url", rawURL), zap.Error(searchErr))
	}
	if fetchErr != nil {
		span.RecordError(fetchErr)
		s.log.Logger(ctx).Warn("[Analysis] Homepage fetch failed", zap.String("url", rawURL), zap.Error(fetchErr))
		if len(results) == 0 {
			return mediaplan.BusinessInfo{}, &mediaplan.AnalysisError{Kind: mediaplan.AnalysisUnreachable, URL: rawURL, Err: fetchErr}
		}
	}

	evidence := buildEvidence(page, results)
	searchCompetitors := competitorsFromResults(rawURL, results)

	var respondErr error
	if s.responder != nil {
		found, err := s.respond(ctx, rawURL, evidence)
		if err == nil {
			if len(found.Competitors) == 0 {
				found.Competitors = searchCompetitors
			}
			span.SetAttributes(attribute.String("analysis.source", "responder"))
			return mediaplan.BusinessInfo{
				Industry:    found.Industry,
				Products:    found.Products,
				Audience:    found.Audience,
				Competitors: found.Competitors,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return mediaplan.BusinessInfo{}, ctxErr
		}
		respondErr = err
		s.log.Logger(ctx).Warn("[Analysis] Responder failed, falling back to keywords", zap.String("url", rawURL), zap.Error(err))
	}

	industry, ok := classifyIndustry(s.policy, evidence)
	if !ok {
		if respondErr != nil {
			return mediaplan.BusinessInfo{}, &mediaplan.AnalysisError{Kind: mediaplan.AnalysisUpstream, URL: rawURL, Err: respondErr}
		}
		return mediaplan.BusinessInfo{}, &mediaplan.AnalysisError{Kind: mediaplan.AnalysisNoSignal, URL: rawURL}
	}
	span.SetAttributes(attribute.String("analysis.source", "keywords"))
	return mediaplan.BusinessInfo{Industry: industry, Competitors: searchCompetitors}, nil
}

func (s *Service) fetch(ctx context.Context, rawURL string) (Page, error) {
	var page Page
	err := s.retry(ctx, func() error {
		var err error
		page, err = s.fetcher.Fetch(ctx, rawURL)
		if err == nil {
			return nil
		}
		var status StatusError
		switch {
		case errors.As(err, &status) && !status.Temporary():
			return backoff.Permanent(err)
		case isSiteBlocked(err), errors.Is(err, ErrUnsupportedContentType), errors.Is(err, ErrEmptyContent):
			return backoff.Permanent(err)
		}
		return err
	})
	return page, err
}

func (s *Service) search(ctx context.Context, rawURL string) ([]brave.SearchResult, error) {
	host := hostOf(rawURL)
	query := brave.Query{Text: host + " competitors", Count: s.searchResults, Market: marketForHost(host)}
	var results []brave.SearchResult
	err := s.retry(ctx, func() error {
		var err error
		results, err = s.searcher.Search(ctx, query)
		if err == nil {
			return nil
		}
		var apiErr brave.APIError
		if errors.As(err, &apiErr) && apiErr.Temporary() {
			return err
		}
		return backoff.Permanent(err)
	})
	return results, err
}

func (s *Service) respond(ctx context.Context, rawURL, evidence string) (findings, error) {
	prompt := fmt.Sprintf("Website: %s\n\n%s", rawURL, evidence)
	var found findings
	err := s.retry(ctx, func() error {
		reply, err := s.responder.Respond(ctx, analysisSystemPrompt, prompt)
		if err != nil {
			return err
		}
		parsed, ok := parseFindings(reply)
		if !ok {
			return backoff.Permanent(errors.New("responder reply has no industry"))
		}
		found = parsed
		return nil
	})
	return found, err
}

func (s *Service) retry(ctx context.Context, op backoff.Operation) error {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = s.retryInterval
	schedule.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(s.retries)), ctx))
}

func buildEvidence(page Page, results []brave.SearchResult) string {
	var builder strings.Builder
	if page.Title != "" {
		builder.WriteString("Page title: ")
		builder.WriteString(page.Title)
		builder.WriteString("\n")
	}
	if page.Text != "" {
		builder.WriteString("Page text:\n")
		builder.WriteString(trimToRunes(page.Text, maxPromptPageRunes))
		builder.WriteString("\n")
	}
	if len(results) > 0 {
		builder.WriteString("\nSearch results:\n")
		for _, result := range results {
			builder.WriteString("- ")
			builder.WriteString(result.Title)
			if result.Snippet != "" {
				builder.WriteString(": ")
				builder.WriteString(result.Snippet)
			}
			builder.WriteString("\n")
		}
	}
	return builder.String()
}
