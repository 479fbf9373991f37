// Package controller drives a media-plan conversation through its stages.
// Each turn extracts every field the user volunteered, walks the stage graph
// as far as the collected fields allow and answers with a single prompt.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/metrics"
	"mediaplan/backend/internal/plan"
	"mediaplan/backend/internal/policy"
	"mediaplan/backend/internal/recommend"
	"mediaplan/backend/internal/threads"
)

var (
	ErrTurnCancelled = errors.New("turn cancelled")
	ErrEmptyThreadID = errors.New("thread id is required")

	// ErrThreadClosed rejects turns on a thread that EndThread archived.
	ErrThreadClosed = errors.New("thread is closed")
)

// Analyzer resolves a website into business facts.
type Analyzer interface {
	Analyze(ctx context.Context, url string) (mediaplan.BusinessInfo, error)
}

type Recommender interface {
	Recommend(industry string, budget *mediaplan.Budget, preferences []string) ([]mediaplan.ChannelAllocation, error)
}

type Assembler interface {
	Assemble(state mediaplan.ConversationState) (mediaplan.PlanDocument, error)
}

type Options struct {
	Store       threads.Store
	Analyzer    Analyzer
	Recommender Recommender
	Assembler   Assembler
	Policy      *policy.Policy
	Logger      *logger.LogMiddleware
	Metrics     metrics.Recorder
	Clock       func() time.Time
	NewID       func() string
}

type Controller struct {
	store       threads.Store
	analyzer    Analyzer
	recommender Recommender
	assembler   Assembler
	policy      policy.Policy
	log         *logger.LogMiddleware
	metrics     metrics.Recorder
	now         func() time.Time
	newID       func() string
	locks       *ThreadLocker
}

type Turn struct {
	ThreadID  string
	Text      string
	Timestamp time.Time
}

type CollectedField struct {
	Field mediaplan.Field `json:"field"`
	Label string          `json:"label"`
	Value string          `json:"value"`
}

// TurnResult is everything a transport needs to answer the user.
type TurnResult struct {
	ThreadID   string                        `json:"threadId"`
	Stage      mediaplan.Stage               `json:"stage"`
	PromptKind PromptKind                    `json:"promptKind"`
	Field      mediaplan.Field               `json:"field,omitempty"`
	Collected  []CollectedField              `json:"collected,omitempty"`
	Stored     []mediaplan.Field             `json:"stored,omitempty"`
	Ignored    []mediaplan.Field             `json:"ignored,omitempty"`
	Hint       string                        `json:"hint,omitempty"`
	Error      string                        `json:"error,omitempty"`
	Channels   []mediaplan.ChannelAllocation `json:"channels,omitempty"`
	Plan       *mediaplan.PlanDocument       `json:"plan,omitempty"`
	Delivery   *mediaplan.DeliveryRequest    `json:"delivery,omitempty"`
	Message    string                        `json:"message"`
}

func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("controller: store is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("controller: analyzer is required")
	}

	p := policy.Default()
	if opts.Policy != nil {
		p = *opts.Policy
	}
	c := &Controller{
		store:       opts.Store,
		analyzer:    opts.Analyzer,
		recommender: opts.Recommender,
		assembler:   opts.Assembler,
		policy:      p,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Clock,
		newID:       opts.NewID,
		locks:       NewThreadLocker(),
	}
	if c.recommender == nil {
		c.recommender = recommend.NewEngine(p)
	}
	if c.assembler == nil {
		c.assembler = plan.NewAssembler(p, plan.WithClock(opts.Clock))
	}
	if c.log == nil {
		c.log = logger.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

func (c *Controller) Policy() policy.Policy {
	return c.policy
}

// StartThread creates a thread and returns the welcome prompt.
func (c *Controller) StartThread(ctx context.Context, now time.Time) (TurnResult, error) {
	ctx, span := otel.Tracer("controller/StartThread").Start(ctx, "StartThread")
	defer span.End()

	if now.IsZero() {
		now = c.now()
	}
	state := mediaplan.NewState(c.newID(), now)
	if err := c.store.Create(ctx, state); err != nil {
		span.RecordError(err)
		return TurnResult{}, fmt.Errorf("create thread: %w", err)
	}
	span.SetAttributes(attribute.String("thread.id", state.ThreadID))
	c.log.Logger(ctx).Info("[Controller] Thread started", zap.String("thread_id", state.ThreadID))

	result := TurnResult{
		ThreadID:   state.ThreadID,
		Stage:      state.Stage,
		PromptKind: PromptWelcome,
		Field:      mediaplan.FieldWebsiteURL,
	}
	result.Message = RenderPrompt(result)
	c.metrics.IncTurn(string(result.Stage), string(result.PromptKind))
	return result, nil
}

// Snapshot returns a copy of the stored state.
func (c *Controller) Snapshot(ctx context.Context, threadID string) (mediaplan.ConversationState, error) {
	state, err := c.store.Load(ctx, threadID)
	if err != nil {
		return mediaplan.ConversationState{}, err
	}
	return state.Clone(), nil
}

// EndThread archives a thread once no turn is in flight for it.
func (c *Controller) EndThread(ctx context.Context, threadID string) error {
	unlock, err := c.locks.Lock(ctx, threadID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTurnCancelled, err)
	}
	defer unlock()

	if err := c.store.Archive(ctx, threadID); err != nil {
		return err
	}
	c.log.Logger(ctx).Info("[Controller] Thread archived", zap.String("thread_id", threadID))
	return nil
}

// HandleTurn processes one user message. The stored state is replaced only
// when the whole turn succeeds; a cancelled turn or a contract violation
// leaves it untouched.
func (c *Controller) HandleTurn(ctx context.Context, turn Turn) (TurnResult, error) {
	ctx, span := otel.Tracer("controller/HandleTurn").Start(ctx, "HandleTurn")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", turn.ThreadID), attribute.Int("turn.length", len(turn.Text)))

	if turn.ThreadID == "" {
		return TurnResult{}, ErrEmptyThreadID
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = c.now()
	}

	unlock, err := c.locks.Lock(ctx, turn.ThreadID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: %w", ErrTurnCancelled, err)
	}
	defer unlock()

	stored, err := c.store.Load(ctx, turn.ThreadID)
	if errors.Is(err, threads.ErrArchived) {
		return TurnResult{}, fmt.Errorf("%w: %w", ErrThreadClosed, err)
	}
	if errors.Is(err, threads.ErrNotFound) {
		stored = mediaplan.NewState(turn.ThreadID, turn.Timestamp)
	} else if err != nil {
		span.RecordError(err)
		return TurnResult{}, fmt.Errorf("load thread: %w", err)
	}

	working := stored.Clone()
	t := newTurnContext(&working, turn)
	if err := c.runTurn(ctx, t); err != nil {
		return c.abortTurn(ctx, stored, err)
	}

	working.UpdatedAt = turn.Timestamp.UTC()
	if err := c.store.Save(ctx, working); err != nil {
		span.RecordError(err)
		return TurnResult{}, fmt.Errorf("save thread: %w", err)
	}

	result := c.buildResult(working, t)
	span.SetAttributes(attribute.String("turn.stage", string(result.Stage)), attribute.String("turn.prompt", string(result.PromptKind)))
	c.metrics.IncTurn(string(result.Stage), string(result.PromptKind))
	c.log.Logger(ctx).Info("[Controller] Turn handled",
		zap.String("thread_id", turn.ThreadID),
		zap.String("from_stage", string(stored.Stage)),
		zap.String("stage", string(result.Stage)),
		zap.String("prompt", string(result.PromptKind)),
		zap.Int("stored_fields", len(t.stored)),
	)
	return result, nil
}

func (c *Controller) abortTurn(ctx context.Context, stored mediaplan.ConversationState, err error) (TurnResult, error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)

	if errors.Is(err, ErrTurnCancelled) {
		span.SetStatus(codes.Error, "cancelled")
		c.log.Logger(ctx).Warn("[Controller] Turn cancelled", zap.String("thread_id", stored.ThreadID), zap.Error(err))
		return TurnResult{}, err
	}

	var violation *mediaplan.ContractViolation
	if errors.As(err, &violation) {
		span.SetStatus(codes.Error, "contract violation")
		c.metrics.IncContractViolation(violation.Component)
		c.log.Logger(ctx).Error("[Controller] Contract violation, turn discarded",
			zap.String("thread_id", stored.ThreadID),
			zap.String("component", violation.Component),
			zap.Error(err),
		)
		result := TurnResult{
			ThreadID:   stored.ThreadID,
			Stage:      stored.Stage,
			PromptKind: PromptErrorRetry,
			Collected:  collected(stored),
		}
		result.Message = RenderPrompt(result)
		c.metrics.IncTurn(string(result.Stage), string(result.PromptKind))
		return result, nil
	}

	span.SetStatus(codes.Error, err.Error())
	return TurnResult{}, err
}
