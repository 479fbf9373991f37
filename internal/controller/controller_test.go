package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/threads"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Monday.
var turnTime = time.Date(2024, 5, 20, 15, 30, 0, 0, time.UTC)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   map[string]int
	analyze func(ctx context.Context, url string, call int) (mediaplan.BusinessInfo, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, url string) (mediaplan.BusinessInfo, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[url]++
	call := f.calls[url]
	f.mu.Unlock()
	return f.analyze(ctx, url, call)
}

func (f *fakeAnalyzer) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func bakeryAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{analyze: func(context.Context, string, int) (mediaplan.BusinessInfo, error) {
		return mediaplan.BusinessInfo{Industry: "bakery", Competitors: []string{"Crumbs & Co"}, Audience: "local families"}, nil
	}}
}

type fakeRecorder struct {
	mu          sync.Mutex
	turns       map[string]int
	transitions int
	validation  map[string]int
	violations  map[string]int
	loopBreaks  map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		turns:      map[string]int{},
		validation: map[string]int{},
		violations: map[string]int{},
		loopBreaks: map[string]int{},
	}
}

func (r *fakeRecorder) IncTurn(_, prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[prompt]++
}

func (r *fakeRecorder) IncTransition(_, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions++
}

func (r *fakeRecorder) IncValidationFailure(field, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validation[field]++
}

func (r *fakeRecorder) ObserveAnalysis(string, time.Duration) {}

func (r *fakeRecorder) IncAnalysisCacheHit() {}

func (r *fakeRecorder) IncContractViolation(component string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations[component]++
}

func (r *fakeRecorder) IncLoopBreak(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loopBreaks[stage]++
}

type violatingRecommender struct{}

func (violatingRecommender) Recommend(string, *mediaplan.Budget, []string) ([]mediaplan.ChannelAllocation, error) {
	return nil, &mediaplan.ContractViolation{Component: "recommend", Missing: []mediaplan.Field{mediaplan.FieldIndustry}}
}

type testEnv struct {
	controller *Controller
	store      *threads.MemoryStore
	metrics    *fakeRecorder
	analyzer   *fakeAnalyzer
}

func newTestEnv(t *testing.T, analyzer *fakeAnalyzer, mutate func(*Options)) testEnv {
	t.Helper()
	env := testEnv{store: threads.NewMemoryStore(), metrics: newFakeRecorder(), analyzer: analyzer}
	opts := Options{
		Store:    env.store,
		Analyzer: analyzer,
		Metrics:  env.metrics,
		Clock:    func() time.Time { return turnTime },
		NewID:    func() string { return "thread-1" },
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	env.controller = c
	return env
}

func (e testEnv) start(t *testing.T) string {
	t.Helper()
	result, err := e.controller.StartThread(context.Background(), turnTime)
	require.NoError(t, err)
	return result.ThreadID
}

func (e testEnv) send(t *testing.T, threadID, text string) TurnResult {
	t.Helper()
	result, err := e.controller.HandleTurn(context.Background(), Turn{ThreadID: threadID, Text: text, Timestamp: turnTime})
	require.NoError(t, err, "turn %q", text)
	return result
}

func (e testEnv) snapshot(t *testing.T, threadID string) mediaplan.ConversationState {
	t.Helper()
	state, err := e.controller.Snapshot(context.Background(), threadID)
	require.NoError(t, err)
	return state
}

// toStartDate drives a fresh thread to AWAITING_START_DATE.
func (e testEnv) toStartDate(t *testing.T) string {
	t.Helper()
	id := e.start(t)
	e.send(t, id, "acme-bakery.com")
	e.send(t, id, "$2,000 per month")
	result := e.send(t, id, "mostly instagram")
	require.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	return id
}

func (e testEnv) toDone(t *testing.T) string {
	t.Helper()
	id := e.toStartDate(t)
	result := e.send(t, id, "next Monday")
	require.Equal(t, mediaplan.StageDone, result.Stage)
	return id
}

func channelPercent(channels []mediaplan.ChannelAllocation, name string) int {
	for _, channel := range channels {
		if channel.Channel == name {
			return channel.Percent
		}
	}
	return 0
}

func TestNewRequiresStoreAndAnalyzer(t *testing.T) {
	_, err := New(Options{Analyzer: bakeryAnalyzer()})
	assert.Error(t, err)
	_, err = New(Options{Store: threads.NewMemoryStore()})
	assert.Error(t, err)
}

func TestStartThreadReturnsWelcome(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)

	result, err := env.controller.StartThread(context.Background(), turnTime)
	require.NoError(t, err)

	assert.Equal(t, "thread-1", result.ThreadID)
	assert.Equal(t, PromptWelcome, result.PromptKind)
	assert.Equal(t, mediaplan.StageAwaitingWebsite, result.Stage)
	assert.Contains(t, result.Message, "website")

	state := env.snapshot(t, "thread-1")
	assert.Equal(t, mediaplan.StageAwaitingWebsite, state.Stage)
}

func TestHandleTurnWalksTheWholeConversation(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)

	result := env.send(t, id, "Our site is acme-bakery.com")
	assert.Equal(t, mediaplan.StageAwaitingBudget, result.Stage)
	assert.Equal(t, PromptAskBudget, result.PromptKind)
	assert.Contains(t, result.Message, "bakery")

	result = env.send(t, id, "$2,000 per month")
	assert.Equal(t, mediaplan.StageAwaitingPreferences, result.Stage)
	assert.Equal(t, PromptAskPreferences, result.PromptKind)
	require.Len(t, result.Channels, 5)
	assert.Equal(t, "Local Search", result.Channels[0].Channel)

	result = env.send(t, id, "mostly instagram")
	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	assert.Equal(t, PromptAskStartDate, result.PromptKind)
	assert.Equal(t, "Social Ads", result.Channels[0].Channel)

	result = env.send(t, id, "next Monday")
	assert.Equal(t, mediaplan.StageDone, result.Stage)
	assert.Equal(t, PromptPlanReady, result.PromptKind)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 1, result.Plan.Revision)

	state := env.snapshot(t, id)
	assert.Equal(t, "https://acme-bakery.com", state.WebsiteURL)
	assert.Equal(t, mediaplan.SourceAnalysis, state.BusinessInfo.Source)
	assert.Equal(t, []string{"social media"}, state.FocusTags)
	require.NotNil(t, state.CampaignStartDate)
	assert.True(t, state.CampaignStartDate.Equal(time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, state.PlanRevision)
	assert.Empty(t, state.InvalidAttempts)
	assert.Zero(t, state.StalledTurns)
	assert.Equal(t, 1, env.analyzer.callsFor("https://acme-bakery.com"))
}

func TestHandleTurnAcceptsEverythingInOneMessage(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)

	result := env.send(t, id, "Hi, acme-bakery.com, budget $2,000/month, we want social media ads, start next Monday")

	assert.Equal(t, mediaplan.StageDone, result.Stage)
	assert.Equal(t, PromptPlanReady, result.PromptKind)
	assert.ElementsMatch(t, []mediaplan.Field{
		mediaplan.FieldWebsiteURL,
		mediaplan.FieldBusinessInfo,
		mediaplan.FieldBudget,
		mediaplan.FieldPreferences,
		mediaplan.FieldCampaignStartDate,
	}, result.Stored)
	require.NotNil(t, result.Plan)
	assert.Equal(t, "Social Ads", result.Plan.Channels[0].Channel)
	assert.Equal(t, 7, env.metrics.transitions)
}

func TestHandleTurnCreatesMissingThread(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)

	result := env.send(t, "fresh", "acme-bakery.com")

	assert.Equal(t, "fresh", result.ThreadID)
	assert.Equal(t, mediaplan.StageAwaitingBudget, result.Stage)
	assert.Equal(t, mediaplan.StageAwaitingBudget, env.snapshot(t, "fresh").Stage)
}

func TestHandleTurnRejectsEmptyThreadID(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)

	_, err := env.controller.HandleTurn(context.Background(), Turn{Text: "hello"})
	assert.ErrorIs(t, err, ErrEmptyThreadID)
}

func TestRetryEscalatesToFormatHintThenConfirmation(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")

	want := []PromptKind{PromptRetry, PromptRetry, PromptFormatHint, PromptConfirmUnderstanding}
	for i, kind := range want {
		result := env.send(t, id, "blah blah")
		assert.Equal(t, kind, result.PromptKind, "turn %d", i+1)
		assert.Equal(t, mediaplan.StageAwaitingBudget, result.Stage)
		assert.Equal(t, mediaplan.FieldBudget, result.Field)
	}

	state := env.snapshot(t, id)
	assert.True(t, state.AwaitingConfirmation)
	assert.Equal(t, 4, state.InvalidAttemptsAt(mediaplan.StageAwaitingBudget))
	assert.Equal(t, 4, state.StalledTurns)
	assert.Equal(t, 1, env.metrics.loopBreaks[string(mediaplan.StageAwaitingBudget)])

	// Budget has no default, so yes falls back to a format hint.
	result := env.send(t, id, "yes")
	assert.Equal(t, PromptFormatHint, result.PromptKind)
	assert.Equal(t, FormatHint(mediaplan.FieldBudget), result.Hint)
	assert.Contains(t, result.Message, "$2,000/month")

	state = env.snapshot(t, id)
	assert.False(t, state.AwaitingConfirmation)
	assert.Zero(t, state.StalledTurns)
	assert.Empty(t, state.InvalidAttempts)
}

func TestRetryShowsValidationReason(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")

	result := env.send(t, id, "$0 per month")

	assert.Equal(t, PromptRetry, result.PromptKind)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 1, env.metrics.validation[string(mediaplan.FieldBudget)])
}

func TestConfirmationYesAppliesPreferenceDefault(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")
	env.send(t, id, "$2,000 per month")

	var result TurnResult
	for range 4 {
		result = env.send(t, id, "idk")
	}
	require.Equal(t, PromptConfirmUnderstanding, result.PromptKind)
	assert.Contains(t, result.Message, "acme-bakery.com")

	result = env.send(t, id, "yes")
	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	assert.Equal(t, PromptAskStartDate, result.PromptKind)

	state := env.snapshot(t, id)
	assert.Equal(t, []string{"balanced"}, state.FocusTags)
	assert.Empty(t, state.Preferences)
	assert.False(t, state.AwaitingConfirmation)
}

func TestConfirmationYesAppliesStartDateDefault(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toStartDate(t)

	for range 4 {
		env.send(t, id, "whenever")
	}
	result := env.send(t, id, "yes")

	assert.Equal(t, mediaplan.StageDone, result.Stage)
	assert.Equal(t, PromptPlanReady, result.PromptKind)
	state := env.snapshot(t, id)
	require.NotNil(t, state.CampaignStartDate)
	assert.True(t, state.CampaignStartDate.Equal(time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC)))
}

func TestConfirmationNoAsksForCorrection(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")
	for range 4 {
		env.send(t, id, "blah")
	}

	result := env.send(t, id, "no")

	assert.Equal(t, PromptAskCorrection, result.PromptKind)
	assert.Equal(t, mediaplan.StageAwaitingBudget, result.Stage)
	state := env.snapshot(t, id)
	assert.False(t, state.AwaitingConfirmation)
	assert.Zero(t, state.StalledTurns)
}

func TestWebsiteCorrectionAfterPlanRegenerates(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toDone(t)

	result := env.send(t, id, "change the website to acme-cakes.com")

	assert.Equal(t, mediaplan.StageDone, result.Stage)
	assert.Equal(t, PromptPlanUpdated, result.PromptKind)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 2, result.Plan.Revision)
	assert.Equal(t, "https://acme-cakes.com", result.Plan.Summary.WebsiteURL)
	assert.Equal(t, 1, env.analyzer.callsFor("https://acme-cakes.com"))

	state := env.snapshot(t, id)
	assert.Equal(t, "https://acme-cakes.com", state.WebsiteURL)
	assert.Equal(t, []string{"social media"}, state.FocusTags)
}

func TestBudgetCorrectionKeepsLaterStage(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toStartDate(t)

	result := env.send(t, id, "actually, change the budget to $3,000/month")

	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	assert.Equal(t, PromptAskStartDate, result.PromptKind)
	assert.Contains(t, result.Stored, mediaplan.FieldBudget)

	state := env.snapshot(t, id)
	assert.InDelta(t, 3000, state.Budget.Amount, 0)
	var total float64
	for _, channel := range state.RecommendedChannels {
		total += channel.Amount
	}
	assert.InDelta(t, 3000, total, 1)
}

func TestStoredFieldIsNotOverwrittenWithoutCorrection(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")

	result := env.send(t, id, "also look at acme-cakes.com")

	assert.Equal(t, PromptRetry, result.PromptKind)
	assert.Equal(t, []mediaplan.Field{mediaplan.FieldWebsiteURL}, result.Ignored)
	assert.Contains(t, result.Message, "I kept your current website")
	assert.Equal(t, "https://acme-bakery.com", env.snapshot(t, id).WebsiteURL)
	assert.Zero(t, env.analyzer.callsFor("https://acme-cakes.com"))
}

func TestBudgetChangeAfterPlanIsImplicitCorrection(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toDone(t)

	result := env.send(t, id, "$3,000/month")

	assert.Equal(t, PromptPlanUpdated, result.PromptKind)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 2, result.Plan.Revision)
	assert.InDelta(t, 3000, result.Plan.Summary.Budget.Amount, 0)
}

func TestDurationAfterPlanExtendsTimeline(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toDone(t)

	result := env.send(t, id, "run it for 3 months")

	assert.Equal(t, PromptPlanUpdated, result.PromptKind)
	state := env.snapshot(t, id)
	require.NotNil(t, state.CampaignDuration)
	assert.Equal(t, mediaplan.Duration{Count: 3, Unit: mediaplan.UnitMonth}, *state.CampaignDuration)
	assert.Equal(t, "3 months", result.Plan.Summary.Duration)
}

func TestDeliveryRequestByEmail(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toDone(t)

	result := env.send(t, id, "please email the plan to jane@acme-bakery.com")

	assert.Equal(t, PromptDeliveryAck, result.PromptKind)
	require.NotNil(t, result.Delivery)
	assert.Equal(t, mediaplan.DeliveryEmail, result.Delivery.Channel)
	assert.Equal(t, "jane@acme-bakery.com", result.Delivery.Email)
	assert.Equal(t, 1, result.Delivery.Revision)
	assert.Contains(t, result.Message, "jane@acme-bakery.com")

	state := env.snapshot(t, id)
	assert.Equal(t, []string{"social media"}, state.FocusTags)
	assert.Equal(t, 1, state.PlanRevision)
}

func TestDeliveryRequestDownload(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toDone(t)

	result := env.send(t, id, "can I download it as a pdf?")

	assert.Equal(t, PromptDeliveryAck, result.PromptKind)
	require.NotNil(t, result.Delivery)
	assert.Equal(t, mediaplan.DeliveryDownload, result.Delivery.Channel)
}

func TestContractViolationLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), func(opts *Options) {
		opts.Recommender = violatingRecommender{}
	})
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")
	before := env.snapshot(t, id)

	result, err := env.controller.HandleTurn(context.Background(), Turn{ThreadID: id, Text: "$2,000 per month", Timestamp: turnTime})

	require.NoError(t, err)
	assert.Equal(t, PromptErrorRetry, result.PromptKind)
	assert.Equal(t, mediaplan.StageAwaitingBudget, result.Stage)
	assert.Equal(t, before, env.snapshot(t, id))
	assert.Equal(t, 1, env.metrics.violations["recommend"])
}

func TestAnalysisFailureAcceptsManualIndustry(t *testing.T) {
	analyzer := &fakeAnalyzer{analyze: func(_ context.Context, url string, _ int) (mediaplan.BusinessInfo, error) {
		return mediaplan.BusinessInfo{}, &mediaplan.AnalysisError{Kind: mediaplan.AnalysisUnreachable, URL: url}
	}}
	env := newTestEnv(t, analyzer, nil)
	id := env.start(t)

	result := env.send(t, id, "broken-bakery.com")
	assert.Equal(t, mediaplan.StageAnalyzingWebsite, result.Stage)
	assert.Equal(t, PromptAnalysisFailed, result.PromptKind)
	assert.Equal(t, "the site could not be reached", result.Error)

	state := env.snapshot(t, id)
	require.NotNil(t, state.AnalysisFailure)
	assert.Equal(t, mediaplan.AnalysisUnreachable, state.AnalysisFailure.Kind)

	result = env.send(t, id, "bakery")
	assert.Equal(t, mediaplan.StageAwaitingBudget, result.Stage)
	assert.Equal(t, PromptAskBudget, result.PromptKind)

	state = env.snapshot(t, id)
	require.NotNil(t, state.BusinessInfo)
	assert.Equal(t, "bakery", state.BusinessInfo.Industry)
	assert.Equal(t, mediaplan.SourceManual, state.BusinessInfo.Source)
	assert.Nil(t, state.AnalysisFailure)
	assert.Equal(t, 1, analyzer.callsFor("https://broken-bakery.com"))
}

func TestAnalysisRetryAfterFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{analyze: func(_ context.Context, url string, call int) (mediaplan.BusinessInfo, error) {
		if call == 1 {
			return mediaplan.BusinessInfo{}, &mediaplan.AnalysisError{Kind: mediaplan.AnalysisTimeout, URL: url}
		}
		return mediaplan.BusinessInfo{Industry: "bakery"}, nil
	}}
	env := newTestEnv(t, analyzer, nil)
	id := env.start(t)

	result := env.send(t, id, "acme-bakery.com")
	require.Equal(t, PromptAnalysisFailed, result.PromptKind)

	result = env.send(t, id, "retry please")
	assert.Equal(t, mediaplan.StageAwaitingBudget, result.Stage)
	assert.Equal(t, PromptAskBudget, result.PromptKind)
	assert.Equal(t, 2, analyzer.callsFor("https://acme-bakery.com"))
}

func TestAnalysisWithoutIndustryIsNoSignal(t *testing.T) {
	analyzer := &fakeAnalyzer{analyze: func(context.Context, string, int) (mediaplan.BusinessInfo, error) {
		return mediaplan.BusinessInfo{Competitors: []string{"someone"}}, nil
	}}
	env := newTestEnv(t, analyzer, nil)
	id := env.start(t)

	result := env.send(t, id, "acme-bakery.com")

	assert.Equal(t, PromptAnalysisFailed, result.PromptKind)
	assert.Equal(t, mediaplan.AnalysisNoSignal, env.snapshot(t, id).AnalysisFailure.Kind)
}

func TestIndustryStatementCorrectsAnalysis(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toStartDate(t)

	result := env.send(t, id, "actually my industry is software")

	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	state := env.snapshot(t, id)
	assert.Equal(t, "software", state.BusinessInfo.Industry)
	assert.Equal(t, mediaplan.SourceManual, state.BusinessInfo.Source)
	assert.NotEmpty(t, state.RecommendedChannels)
}

func TestIndustryStatementWithoutCorrectionIsIgnored(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toStartDate(t)
	before := env.snapshot(t, id)

	result := env.send(t, id, "our industry is retail")

	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	assert.Equal(t, []mediaplan.Field{mediaplan.FieldIndustry}, result.Ignored)
	state := env.snapshot(t, id)
	assert.Equal(t, "bakery", state.BusinessInfo.Industry)
	assert.Equal(t, mediaplan.SourceAnalysis, state.BusinessInfo.Source)
	assert.Equal(t, before.RecommendedChannels, state.RecommendedChannels)
}

func TestIndustryWordInPreferenceIsNotAnIndustry(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")
	result := env.send(t, id, "$2,000 per month")
	require.Equal(t, mediaplan.StageAwaitingPreferences, result.Stage)

	result = env.send(t, id, "we want to lead the industry in organic sourcing")

	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	assert.NotContains(t, result.Stored, mediaplan.FieldIndustry)
	assert.Contains(t, result.Stored, mediaplan.FieldPreferences)
	assert.Len(t, result.Channels, 5)

	state := env.snapshot(t, id)
	assert.Equal(t, "bakery", state.BusinessInfo.Industry)
	assert.Equal(t, mediaplan.SourceAnalysis, state.BusinessInfo.Source)
	assert.Equal(t, []string{"we want to lead the industry in organic sourcing"}, state.Preferences)
}

func TestFreeTextPreferenceIsKeptWithItsTag(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")
	env.send(t, id, "$2,000 per month")

	result := env.send(t, id, "highlight local sourcing")

	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	state := env.snapshot(t, id)
	assert.Equal(t, []string{"local"}, state.FocusTags)
	assert.Equal(t, []string{"highlight local sourcing"}, state.Preferences)
	assert.Equal(t, []string{"local", "highlight local sourcing"}, state.PreferenceTerms())
}

func TestSmallTalkAfterPlanKeepsPlan(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toDone(t)
	before := env.snapshot(t, id)

	for _, text := range []string{
		"Great plan, my cousin does video for a living.",
		"We're a local favourite, thanks!",
	} {
		result := env.send(t, id, text)
		assert.Equal(t, PromptDone, result.PromptKind, text)
		assert.Equal(t, []mediaplan.Field{mediaplan.FieldPreferences}, result.Ignored, text)
		require.NotNil(t, result.Plan, text)
		assert.Equal(t, 1, result.Plan.Revision, text)
	}

	state := env.snapshot(t, id)
	assert.Equal(t, 1, state.PlanRevision)
	assert.Equal(t, before.FocusTags, state.FocusTags)
	assert.Equal(t, before.RecommendedChannels, state.RecommendedChannels)
	assert.Equal(t, before.FinalPlan, state.FinalPlan)
}

func TestPreferenceCorrectionAfterPlanRegenerates(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toDone(t)

	result := env.send(t, id, "actually, focus on video instead")

	assert.Equal(t, PromptPlanUpdated, result.PromptKind)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 2, result.Plan.Revision)
	assert.Equal(t, []string{"video"}, env.snapshot(t, id).FocusTags)
}

func TestFoodRetailConversationEndToEnd(t *testing.T) {
	analyzer := &fakeAnalyzer{analyze: func(context.Context, string, int) (mediaplan.BusinessInfo, error) {
		return mediaplan.BusinessInfo{Industry: "food/retail", Audience: "neighbourhood shoppers"}, nil
	}}
	env := newTestEnv(t, analyzer, nil)
	id := env.start(t)

	env.send(t, id, "acme-market.com")
	env.send(t, id, "$2,000/month")
	env.send(t, id, "highlight local sourcing")
	result := env.send(t, id, "in 2 weeks")

	assert.Equal(t, mediaplan.StageDone, result.Stage)
	assert.Equal(t, PromptPlanReady, result.PromptKind)
	require.NotNil(t, result.Plan)
	doc := result.Plan

	assert.NotZero(t, channelPercent(doc.Channels, "Local Search"))
	assert.NotZero(t, channelPercent(doc.Channels, "Social Ads"))
	total := 0
	for _, channel := range doc.Channels {
		total += channel.Percent
	}
	assert.Equal(t, 100, total)

	assert.Equal(t, []string{"Executive Summary", "Channel Breakdown", "Creative Suggestions", "Timeline"}, doc.SectionTitles())
	assert.Equal(t, "food/retail", doc.Summary.Industry)
	assert.Contains(t, doc.Summary.Preferences, "local")
	assert.Len(t, doc.Creatives, len(doc.Channels))

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	assert.True(t, doc.Summary.StartDate.Equal(start), "start %s", doc.Summary.StartDate)
	require.GreaterOrEqual(t, len(doc.Timeline), 4)
	for week := range 4 {
		milestone := doc.Timeline[week]
		if !milestone.Start.Equal(start.AddDate(0, 0, 7*week)) {
			t.Fatalf("week %d starts %s, want %s", week+1, milestone.Start, start.AddDate(0, 0, 7*week))
		}
		assert.Contains(t, milestone.Label, fmt.Sprintf("Week %d", week+1))
		assert.NotEmpty(t, milestone.Activities)
	}
}

func TestStageNeverMovesBackWithoutCorrection(t *testing.T) {
	pool := []string{
		"hello",
		"acme-bakery.com",
		"blah",
		"also look at acme-cakes.com",
		"$2,000 per month",
		"our industry is retail",
		"idk",
		"mostly instagram",
		"we love video",
		"next Monday",
		"Great plan, my cousin does video for a living.",
		"$2,000 per month",
		"thanks",
	}
	for _, text := range pool {
		require.False(t, detectIntent(text).correction, text)
	}

	for seed := range uint64(20) {
		env := newTestEnv(t, bakeryAnalyzer(), nil)
		id := fmt.Sprintf("thread-%d", seed)
		texts := append([]string(nil), pool...)
		rand.New(rand.NewPCG(seed, 7)).Shuffle(len(texts), func(i, j int) {
			texts[i], texts[j] = texts[j], texts[i]
		})

		previous := mediaplan.StageAwaitingWebsite.Index()
		for _, text := range texts {
			result := env.send(t, id, text)
			if result.Stage.Index() < previous {
				t.Fatalf("seed %d: %q moved the stage back to %s", seed, text, result.Stage)
			}
			previous = result.Stage.Index()
		}
	}
}

func TestTurnOnEndedThreadIsRejected(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")
	require.NoError(t, env.controller.EndThread(context.Background(), id))

	_, err := env.controller.HandleTurn(context.Background(), Turn{ThreadID: id, Text: "acme-cakes.com", Timestamp: turnTime})

	assert.ErrorIs(t, err, ErrThreadClosed)
	assert.ErrorIs(t, err, threads.ErrArchived)
	assert.Zero(t, env.analyzer.callsFor("https://acme-cakes.com"))
	active, err := env.store.ListActive(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, active)
	_, err = env.controller.Snapshot(context.Background(), id)
	assert.ErrorIs(t, err, threads.ErrNotFound)
}

func TestPreferenceAfterChannelsRefreshesInPlace(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.toStartDate(t)
	before := env.snapshot(t, id).RecommendedChannels

	result := env.send(t, id, "also add email marketing")

	assert.Equal(t, mediaplan.StageAwaitingStartDate, result.Stage)
	assert.Equal(t, PromptAskStartDate, result.PromptKind)
	state := env.snapshot(t, id)
	assert.Equal(t, []string{"social media", "email"}, state.FocusTags)
	assert.Greater(t, channelPercent(state.RecommendedChannels, "Email Marketing"), channelPercent(before, "Email Marketing"))
}

func TestCancelledAnalysisDoesNotSave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	analyzer := &fakeAnalyzer{analyze: func(ctx context.Context, _ string, _ int) (mediaplan.BusinessInfo, error) {
		cancel()
		return mediaplan.BusinessInfo{}, ctx.Err()
	}}
	env := newTestEnv(t, analyzer, nil)
	id := env.start(t)

	_, err := env.controller.HandleTurn(ctx, Turn{ThreadID: id, Text: "acme-bakery.com", Timestamp: turnTime})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTurnCancelled))
	state := env.snapshot(t, id)
	assert.Equal(t, mediaplan.StageAwaitingWebsite, state.Stage)
	assert.Empty(t, state.WebsiteURL)
}

func TestEndThreadArchives(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)

	require.NoError(t, env.controller.EndThread(context.Background(), id))

	_, err := env.controller.Snapshot(context.Background(), id)
	assert.ErrorIs(t, err, threads.ErrNotFound)
	assert.ErrorIs(t, env.controller.EndThread(context.Background(), id), threads.ErrNotFound)
}

func TestConcurrentTurnsOnOneThreadAreSerialised(t *testing.T) {
	env := newTestEnv(t, bakeryAnalyzer(), nil)
	id := env.start(t)
	env.send(t, id, "acme-bakery.com")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.controller.HandleTurn(context.Background(), Turn{ThreadID: id, Text: "blah", Timestamp: turnTime})
		}()
	}
	wg.Wait()

	state := env.snapshot(t, id)
	assert.Equal(t, 8, state.StalledTurns)
	assert.Equal(t, 8, state.InvalidAttemptsAt(mediaplan.StageAwaitingBudget))
	assert.Zero(t, env.controller.locks.active())
}
