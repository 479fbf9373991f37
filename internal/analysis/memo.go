package analysis

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/metrics"
)

const defaultAnalysisTimeout = 20 * time.Second

type MemoOption func(*Memo)

func WithTimeout(timeout time.Duration) MemoOption {
	return func(m *Memo) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

func WithMetrics(recorder metrics.Recorder) MemoOption {
	return func(m *Memo) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

func WithLogger(log *logger.LogMiddleware) MemoOption {
	return func(m *Memo) {
		if log != nil {
			m.log = log
		}
	}
}

// Memo makes at most one underlying call per website. Concurrent callers
// share the in-flight call and successful results are kept for the life of
// the process. Failures are not cached so a retry reaches the gateway again.
//
// The underlying call is detached from the caller: when a turn is cancelled
// the call keeps running under its own timeout and a later turn picks up the
// result.
type Memo struct {
	next    Gateway
	timeout time.Duration
	metrics metrics.Recorder
	log     *logger.LogMiddleware

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]mediaplan.BusinessInfo
}

func NewMemo(next Gateway, opts ...MemoOption) *Memo {
	m := &Memo{
		next:    next,
		timeout: defaultAnalysisTimeout,
		metrics: metrics.Nop(),
		log:     logger.NewNop(),
		cache:   make(map[string]mediaplan.BusinessInfo),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memo) Analyze(ctx context.Context, rawURL string) (mediaplan.BusinessInfo, error) {
	ctx, span := otel.Tracer("analysis/Memo").Start(ctx, "Analyze")
	defer span.End()

	key := cacheKey(rawURL)
	if info, ok := m.cached(key); ok {
		m.metrics.IncAnalysisCacheHit()
		return info, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.call(detached, key, rawURL)
	})

	select {
	case <-ctx.Done():
		return mediaplan.BusinessInfo{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			return mediaplan.BusinessInfo{}, res.Err
		}
		return cloneInfo(res.Val.(mediaplan.BusinessInfo)), nil
	}
}

func (m *Memo) call(ctx context.Context, key, rawURL string) (mediaplan.BusinessInfo, error) {
	if info, ok := m.cached(key); ok {
		return info, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	info, err := m.next.Analyze(callCtx, rawURL)
	elapsed := time.Since(start)

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &mediaplan.AnalysisError{Kind: mediaplan.AnalysisTimeout, URL: rawURL, Err: err}
	}
	m.metrics.ObserveAnalysis(outcome(err), elapsed)
	if err != nil {
		m.log.Logger(ctx).Info("[Analysis] Website analysis failed",
			zap.String("url", rawURL),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return mediaplan.BusinessInfo{}, err
	}

	m.mu.Lock()
	m.cache[key] = cloneInfo(info)
	m.mu.Unlock()
	m.log.Logger(ctx).Info("[Analysis] Website analysed",
		zap.String("url", rawURL),
		zap.String("industry", info.Industry),
		zap.Duration("duration", elapsed),
	)
	return info, nil
}

func (m *Memo) cached(key string) (mediaplan.BusinessInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.cache[key]
	if !ok {
		return mediaplan.BusinessInfo{}, false
	}
	return cloneInfo(info), true
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var analysisErr *mediaplan.AnalysisError
	if errors.As(err, &analysisErr) {
		return string(analysisErr.Kind)
	}
	return string(mediaplan.AnalysisUpstream)
}

// cacheKey treats URLs that differ only in scheme case, host case or a
// trailing slash as the same site.
func cacheKey(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(trimmed)
	}
	path := strings.TrimRight(parsed.EscapedPath(), "/")
	key := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + path
	if parsed.RawQuery != "" {
		key += "?" + parsed.RawQuery
	}
	return key
}

func cloneInfo(info mediaplan.BusinessInfo) mediaplan.BusinessInfo {
	info.Competitors = append([]string(nil), info.Competitors...)
	info.Products = append([]string(nil), info.Products...)
	return info
}
