package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/plan"
	"mediaplan/backend/internal/validate"
)

const dateLabelLayout = "Jan 2, 2006"

var analysisMessages = map[mediaplan.AnalysisErrorKind]string{
	mediaplan.AnalysisTimeout:     "the analysis took too long",
	mediaplan.AnalysisUnreachable: "the site could not be reached",
	mediaplan.AnalysisNoSignal:    "I couldn't tell what the business does from the site",
	mediaplan.AnalysisUpstream:    "the analysis service failed",
}

// turnContext carries one turn's working state through the pipeline.
type turnContext struct {
	state  *mediaplan.ConversationState
	turn   Turn
	start  mediaplan.Stage
	intent intent
	cands  validate.Candidates

	stored  []mediaplan.Field
	ignored []mediaplan.Field
	failed  map[mediaplan.Field]string

	prompt         PromptKind
	field          mediaplan.Field
	hint           string
	errText        string
	confirmHandled bool
	planGenerated  bool
}

func newTurnContext(state *mediaplan.ConversationState, turn Turn) *turnContext {
	if !state.Stage.Valid() {
		state.Stage = mediaplan.NextStage(*state)
	}
	if state.InvalidAttempts == nil {
		state.InvalidAttempts = map[mediaplan.Stage]int{}
	}
	return &turnContext{
		state:  state,
		turn:   turn,
		start:  state.Stage,
		failed: map[mediaplan.Field]string{},
	}
}

func (t *turnContext) markStored(field mediaplan.Field) {
	for _, existing := range t.stored {
		if existing == field {
			return
		}
	}
	t.stored = append(t.stored, field)
	if stage, ok := mediaplan.StageForField(field); ok {
		delete(t.state.InvalidAttempts, stage)
	}
	t.state.AwaitingConfirmation = false
}

// invalidate clears field and everything derived from it.
func (t *turnContext) invalidate(field mediaplan.Field) {
	t.state.Clear(field)
	for _, derived := range mediaplan.Downstream(field) {
		t.state.Clear(derived)
	}
}

type storeAction int

const (
	skipField storeAction = iota
	storeField
	correctField
)

// decide applies the monotonic rule: a stored field only changes on a
// correction, explicit or implied by the stage.
func (t *turnContext) decide(field mediaplan.Field, same, implicit bool) storeAction {
	if !t.state.Has(field) {
		return storeField
	}
	if same {
		return skipField
	}
	if t.intent.correction || implicit {
		return correctField
	}
	t.ignored = append(t.ignored, field)
	return skipField
}

func (c *Controller) runTurn(ctx context.Context, t *turnContext) error {
	state := t.state
	t.intent = detectIntent(t.turn.Text)
	t.cands = validate.Extract(t.turn.Text, t.turn.Timestamp, validate.Options{
		DefaultCurrency: c.policy.DefaultCurrency,
		Tags:            c.policy,
		ExpectBudget:    state.Stage == mediaplan.StageAwaitingBudget,
		ExpectDuration:  state.Stage == mediaplan.StageAwaitingStartDate || state.Stage == mediaplan.StageDone,
	})
	c.recordValidationFailures(t)

	if c.handleDelivery(t) {
		return nil
	}
	if err := c.handleConfirmation(t); err != nil {
		return err
	}
	if !t.confirmHandled {
		if err := c.applyFields(t); err != nil {
			return err
		}
	}

	if err := c.walk(ctx, t); err != nil {
		return err
	}

	c.countAttempts(t)
	c.choosePrompt(t)
	return nil
}

func (c *Controller) recordValidationFailures(t *turnContext) {
	errs := []error{t.cands.URL.Err, t.cands.Budget.Err, t.cands.StartDate.Err, t.cands.Duration.Err}
	for _, err := range errs {
		var validationErr *validate.ValidationError
		if !errors.As(err, &validationErr) {
			continue
		}
		t.failed[validationErr.Field] = validationErr.Reason
		c.metrics.IncValidationFailure(string(validationErr.Field), string(validationErr.Code))
	}
}

// handleDelivery answers download and email requests once the plan exists.
func (c *Controller) handleDelivery(t *turnContext) bool {
	state := t.state
	if state.Stage != mediaplan.StageDone || state.FinalPlan == nil || t.intent.correction {
		return false
	}
	if t.cands.URL.Valid() || t.cands.Budget.Valid() || t.cands.StartDate.Valid() || t.cands.Duration.Valid() {
		return false
	}
	if !t.intent.download && !t.intent.email && len(t.cands.Emails) == 0 {
		return false
	}

	request := mediaplan.DeliveryRequest{
		Channel:     mediaplan.DeliveryDownload,
		RequestedAt: t.turn.Timestamp.UTC(),
		Revision:    state.PlanRevision,
	}
	if len(t.cands.Emails) > 0 || (t.intent.email && !t.intent.download) {
		request.Channel = mediaplan.DeliveryEmail
		if len(t.cands.Emails) > 0 {
			request.Email = t.cands.Emails[0]
		} else if state.Delivery != nil {
			request.Email = state.Delivery.Email
		}
	}
	state.Delivery = &request
	t.prompt = PromptDeliveryAck
	return true
}

func (c *Controller) handleConfirmation(t *turnContext) error {
	state := t.state
	if !state.AwaitingConfirmation || t.cands.AnyValid() || t.intent.hasIndustry {
		return nil
	}

	field, _ := ownField(state.Stage)
	switch {
	case t.intent.confirmYes:
		state.ResetCounters()
		t.confirmHandled = true
		applied, err := c.applyDefault(t, field)
		if err != nil {
			return err
		}
		if !applied {
			t.prompt = PromptFormatHint
			t.field = field
			t.hint = FormatHint(field)
		}
	case t.intent.confirmNo:
		state.ResetCounters()
		t.confirmHandled = true
		t.prompt = PromptAskCorrection
		t.field = field
	}
	return nil
}

// applyDefault fills field from policy when it has a default.
func (c *Controller) applyDefault(t *turnContext, field mediaplan.Field) (bool, error) {
	state := t.state
	switch field {
	case mediaplan.FieldPreferences:
		if !state.AddFocusTag(c.policy.DefaultFocus) {
			return false, nil
		}
		t.markStored(field)
		return true, c.refreshChannels(t)
	case mediaplan.FieldCampaignStartDate:
		start, err := validate.Date(c.policy.DefaultStartDate, t.turn.Timestamp)
		if err != nil {
			return false, nil
		}
		state.CampaignStartDate = &start
		t.markStored(field)
		return true, nil
	default:
		return false, nil
	}
}

func (c *Controller) applyFields(t *turnContext) error {
	c.applyURL(t)
	c.applyIndustry(t)
	c.applyBudget(t)
	if err := c.applyPreferences(t); err != nil {
		return err
	}
	c.applyStartDate(t)
	c.applyDuration(t)
	return nil
}

func (c *Controller) applyURL(t *turnContext) {
	state := t.state
	if !t.cands.URL.Valid() {
		return
	}
	url := t.cands.URL.Value
	same := strings.EqualFold(url, state.WebsiteURL)
	if same && state.AnalysisFailure != nil {
		// Resending the failed address asks for another attempt.
		t.intent.retry = true
		return
	}

	switch t.decide(mediaplan.FieldWebsiteURL, same, state.AnalysisFailure != nil) {
	case storeField:
		state.WebsiteURL = url
		t.markStored(mediaplan.FieldWebsiteURL)
	case correctField:
		t.invalidate(mediaplan.FieldWebsiteURL)
		state.WebsiteURL = url
		t.markStored(mediaplan.FieldWebsiteURL)
	}
}

func (c *Controller) applyIndustry(t *turnContext) {
	state := t.state
	raw := t.intent.industry
	if !t.intent.hasIndustry {
		if !c.acceptsFreeTextIndustry(t) {
			return
		}
		raw = t.cands.Remainder
	}
	industry, err := validate.Industry(raw)
	if err != nil {
		return
	}

	same := state.BusinessInfo != nil && strings.EqualFold(state.BusinessInfo.Industry, industry)
	switch t.decide(mediaplan.FieldIndustry, same, state.AnalysisFailure != nil) {
	case storeField:
		if state.BusinessInfo == nil {
			state.BusinessInfo = &mediaplan.BusinessInfo{}
		}
		state.BusinessInfo.Industry = industry
		state.BusinessInfo.Source = mediaplan.SourceManual
		state.AnalysisFailure = nil
		t.markStored(mediaplan.FieldIndustry)
	case correctField:
		// The rest of the business record still describes the same site.
		for _, derived := range mediaplan.Downstream(mediaplan.FieldIndustry) {
			state.Clear(derived)
		}
		state.BusinessInfo.Industry = industry
		state.BusinessInfo.Source = mediaplan.SourceManual
		state.AnalysisFailure = nil
		t.markStored(mediaplan.FieldIndustry)
	}
}

// acceptsFreeTextIndustry reports whether a bare reply should be read as the
// industry: only after a failed analysis and only when nothing else was said.
func (c *Controller) acceptsFreeTextIndustry(t *turnContext) bool {
	state := t.state
	if state.Stage != mediaplan.StageAnalyzingWebsite || state.AnalysisFailure == nil {
		return false
	}
	if t.intent.retry || t.intent.nonAnswer || t.cands.URL.Found || t.cands.AnyValid() {
		return false
	}
	return !isNonAnswer(t.cands.Remainder)
}

func (c *Controller) applyBudget(t *turnContext) {
	state := t.state
	if !t.cands.Budget.Valid() {
		return
	}
	budget := t.cands.Budget.Value
	same := state.Budget != nil && state.Budget.Amount == budget.Amount &&
		state.Budget.Currency == budget.Currency && state.Budget.Period == budget.Period

	switch t.decide(mediaplan.FieldBudget, same, state.Stage == mediaplan.StageDone) {
	case storeField:
		state.Budget = &budget
		t.markStored(mediaplan.FieldBudget)
	case correctField:
		t.invalidate(mediaplan.FieldBudget)
		state.Budget = &budget
		t.markStored(mediaplan.FieldBudget)
	}
}

func (c *Controller) applyPreferences(t *turnContext) error {
	state := t.state
	tags := t.cands.FocusTags
	var freeText string
	if c.acceptsFreeTextPreference(t) {
		if value, err := validate.Preference(t.cands.Remainder); err == nil {
			freeText = value
		}
	}
	if len(tags) == 0 && freeText == "" {
		return nil
	}
	// A finished plan only changes on request. Small talk that happens to
	// name a channel is not one.
	if state.Stage == mediaplan.StageDone && !t.intent.correction {
		if !containsAllTags(state.FocusTags, tags) {
			t.ignored = append(t.ignored, mediaplan.FieldPreferences)
		}
		return nil
	}

	changed := false
	switch {
	case !state.Has(mediaplan.FieldPreferences):
		for _, tag := range tags {
			state.AddFocusTag(tag)
		}
		state.AddPreference(freeText)
		changed = true
	case t.intent.correction:
		if !sameTags(state.FocusTags, tags) || len(state.Preferences) > 0 {
			state.Clear(mediaplan.FieldPreferences)
			for _, tag := range tags {
				state.AddFocusTag(tag)
			}
			changed = true
		}
	default:
		for _, tag := range tags {
			if state.AddFocusTag(tag) {
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}
	t.markStored(mediaplan.FieldPreferences)
	return c.refreshChannels(t)
}

// acceptsFreeTextPreference reports whether the reply's leftover text is the
// user's own wording of a first preference.
func (c *Controller) acceptsFreeTextPreference(t *turnContext) bool {
	state := t.state
	if state.Stage != mediaplan.StageAwaitingPreferences || state.Has(mediaplan.FieldPreferences) {
		return false
	}
	if t.intent.nonAnswer || t.intent.hasIndustry || t.cands.URL.Found {
		return false
	}
	if t.cands.Budget.Valid() || t.cands.StartDate.Valid() || t.cands.Duration.Valid() {
		return false
	}
	return !isNonAnswer(t.cands.Remainder)
}

// refreshChannels re-ranks existing channels after a preference change
// without moving the stage back.
func (c *Controller) refreshChannels(t *turnContext) error {
	state := t.state
	if !state.Has(mediaplan.FieldRecommendedChannels) || !state.Has(mediaplan.FieldIndustry) {
		return nil
	}
	channels, err := c.recommender.Recommend(state.BusinessInfo.Industry, state.Budget, state.PreferenceTerms())
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return &mediaplan.ContractViolation{Component: "recommend", Missing: []mediaplan.Field{mediaplan.FieldRecommendedChannels}}
	}
	state.RecommendedChannels = channels
	state.Clear(mediaplan.FieldFinalPlan)
	return nil
}

func (c *Controller) applyStartDate(t *turnContext) {
	state := t.state
	if !t.cands.StartDate.Valid() {
		return
	}
	start := t.cands.StartDate.Value
	same := state.CampaignStartDate != nil && state.CampaignStartDate.Equal(start)

	switch t.decide(mediaplan.FieldCampaignStartDate, same, state.Stage == mediaplan.StageDone) {
	case storeField:
		state.CampaignStartDate = &start
		t.markStored(mediaplan.FieldCampaignStartDate)
	case correctField:
		t.invalidate(mediaplan.FieldCampaignStartDate)
		state.CampaignStartDate = &start
		t.markStored(mediaplan.FieldCampaignStartDate)
	}
}

func (c *Controller) applyDuration(t *turnContext) {
	state := t.state
	if !t.cands.Duration.Valid() {
		return
	}
	duration := t.cands.Duration.Value
	same := state.CampaignDuration != nil && *state.CampaignDuration == duration

	switch t.decide(mediaplan.FieldCampaignDuration, same, state.Stage == mediaplan.StageDone) {
	case storeField:
		// Duration is optional, so it can arrive after the plan exists.
		for _, derived := range mediaplan.Downstream(mediaplan.FieldCampaignDuration) {
			state.Clear(derived)
		}
		state.CampaignDuration = &duration
		t.markStored(mediaplan.FieldCampaignDuration)
	case correctField:
		t.invalidate(mediaplan.FieldCampaignDuration)
		state.CampaignDuration = &duration
		t.markStored(mediaplan.FieldCampaignDuration)
	}
}

// walk moves the stage toward NextStage one table edge at a time and runs
// the entry action of every stage it settles on.
func (c *Controller) walk(ctx context.Context, t *turnContext) error {
	state := t.state
	maxSteps := 3 * len(mediaplan.AllStages())

	for range maxSteps {
		current := state.Stage
		target := mediaplan.NextStage(*state)
		if current != target {
			next, kind := target, mediaplan.TransitionCorrect
			if current.Before(target) {
				next, _ = mediaplan.AdvanceFrom(current)
				kind = mediaplan.TransitionAdvance
			}
			if !mediaplan.IsValidTransition(current, next, kind) {
				return &mediaplan.ContractViolation{
					Component: "controller",
					Err:       fmt.Errorf("no %s edge from %s to %s", kind, current, next),
				}
			}
			state.Stage = next
			if kind == mediaplan.TransitionAdvance {
				delete(state.InvalidAttempts, current)
			}
			c.metrics.IncTransition(string(current), string(next), string(kind))
			c.log.Logger(ctx).Debug("[Controller] Stage transition",
				zap.String("thread_id", state.ThreadID),
				zap.String("from", string(current)),
				zap.String("to", string(next)),
				zap.String("kind", string(kind)),
			)
			continue
		}

		var (
			proceed bool
			err     error
		)
		switch current {
		case mediaplan.StageAnalyzingWebsite:
			proceed, err = c.enterAnalysis(ctx, t)
		case mediaplan.StageRecommendingChannels:
			proceed, err = true, c.enterRecommendation(t)
		case mediaplan.StageGeneratingPlan:
			proceed, err = true, c.enterPlanGeneration(t)
		}
		if err != nil || !proceed {
			return err
		}
	}
	return &mediaplan.ContractViolation{Component: "controller", Err: errors.New("stage walk did not settle")}
}

func (c *Controller) enterAnalysis(ctx context.Context, t *turnContext) (bool, error) {
	state := t.state
	if state.AnalysisFailure != nil && !t.intent.retry {
		return false, nil
	}
	state.AnalysisFailure = nil

	info, err := c.analyzer.Analyze(ctx, state.WebsiteURL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, fmt.Errorf("%w: %w", ErrTurnCancelled, ctxErr)
	}
	if errors.Is(err, context.Canceled) {
		return false, fmt.Errorf("%w: %w", ErrTurnCancelled, err)
	}
	if err == nil && strings.TrimSpace(info.Industry) == "" {
		err = &mediaplan.AnalysisError{Kind: mediaplan.AnalysisNoSignal, URL: state.WebsiteURL}
	}
	if err != nil {
		kind := mediaplan.AnalysisUpstream
		var analysisErr *mediaplan.AnalysisError
		if errors.As(err, &analysisErr) {
			kind = analysisErr.Kind
		}
		state.AnalysisFailure = &mediaplan.AnalysisFailure{URL: state.WebsiteURL, Kind: kind, Message: analysisMessage(kind)}
		t.prompt = PromptAnalysisFailed
		t.field = mediaplan.FieldIndustry
		t.errText = state.AnalysisFailure.Message
		c.log.Logger(ctx).Warn("[Controller] Website analysis failed",
			zap.String("thread_id", state.ThreadID),
			zap.String("url", state.WebsiteURL),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return false, nil
	}

	info.Source = mediaplan.SourceAnalysis
	info.AnalyzedURL = state.WebsiteURL
	state.BusinessInfo = &info
	t.markStored(mediaplan.FieldBusinessInfo)
	return true, nil
}

func (c *Controller) enterRecommendation(t *turnContext) error {
	state := t.state
	industry := ""
	if state.BusinessInfo != nil {
		industry = state.BusinessInfo.Industry
	}
	channels, err := c.recommender.Recommend(industry, state.Budget, state.PreferenceTerms())
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return &mediaplan.ContractViolation{Component: "recommend", Missing: []mediaplan.Field{mediaplan.FieldRecommendedChannels}}
	}
	state.RecommendedChannels = channels
	return nil
}

func (c *Controller) enterPlanGeneration(t *turnContext) error {
	doc, err := c.assembler.Assemble(*t.state)
	if err != nil {
		return err
	}
	t.state.FinalPlan = &doc
	t.state.PlanRevision = doc.Revision
	t.planGenerated = true
	return nil
}

func (t *turnContext) progressed() bool {
	return len(t.stored) > 0 || t.state.Stage != t.start
}

// countAttempts updates the retry and stall counters. Done has neither.
func (c *Controller) countAttempts(t *turnContext) {
	state := t.state
	if t.confirmHandled || t.prompt == PromptDeliveryAck || t.start == mediaplan.StageDone {
		return
	}
	if t.intent.retry && t.start == mediaplan.StageAnalyzingWebsite {
		return
	}

	if field, ok := ownField(t.start); ok && state.Stage == t.start && !state.Has(field) {
		state.InvalidAttempts[t.start]++
	}
	if t.progressed() {
		state.StalledTurns = 0
		return
	}
	state.StalledTurns++
}

func (c *Controller) choosePrompt(t *turnContext) {
	state := t.state
	if t.prompt != "" {
		return
	}

	if state.Stage == mediaplan.StageDone {
		switch {
		case t.planGenerated && state.PlanRevision <= 1:
			t.prompt = PromptPlanReady
		case t.planGenerated:
			t.prompt = PromptPlanUpdated
		case t.intent.correction && len(t.stored) == 0:
			t.prompt = PromptAskCorrection
		default:
			t.prompt = PromptDone
		}
		return
	}

	field, _ := ownField(state.Stage)
	t.field = field
	switch {
	case state.StalledTurns >= c.policy.NonProgressThreshold:
		t.prompt = PromptConfirmUnderstanding
		state.AwaitingConfirmation = true
		c.metrics.IncLoopBreak(string(state.Stage))
	case state.InvalidAttemptsAt(state.Stage) >= c.policy.RetryThreshold:
		t.prompt = PromptFormatHint
		t.hint = FormatHint(field)
	case state.Stage == mediaplan.StageAnalyzingWebsite:
		t.prompt = PromptAnalysisFailed
		if state.AnalysisFailure != nil {
			t.errText = state.AnalysisFailure.Message
		}
	case t.failed[field] != "":
		t.prompt = PromptRetry
		t.errText = t.failed[field]
	case !t.progressed():
		t.prompt = PromptRetry
	default:
		t.prompt = askPrompt(state.Stage)
	}
}

func (c *Controller) buildResult(state mediaplan.ConversationState, t *turnContext) TurnResult {
	result := TurnResult{
		ThreadID:   state.ThreadID,
		Stage:      state.Stage,
		PromptKind: t.prompt,
		Field:      t.field,
		Collected:  collected(state),
		Stored:     t.stored,
		Ignored:    t.ignored,
		Hint:       t.hint,
		Error:      t.errText,
		Channels:   state.RecommendedChannels,
	}
	if state.FinalPlan != nil {
		result.Plan = state.FinalPlan
	}
	if t.prompt == PromptDeliveryAck {
		result.Delivery = state.Delivery
	}
	result.Message = RenderPrompt(result)
	return result
}

// ownField is the field a resting stage waits for. A thread parked on
// AnalyzingWebsite is waiting for a manual industry.
func ownField(stage mediaplan.Stage) (mediaplan.Field, bool) {
	if stage == mediaplan.StageAnalyzingWebsite {
		return mediaplan.FieldIndustry, true
	}
	return mediaplan.RequiredField(stage)
}

func askPrompt(stage mediaplan.Stage) PromptKind {
	switch stage {
	case mediaplan.StageAwaitingBudget:
		return PromptAskBudget
	case mediaplan.StageAwaitingPreferences:
		return PromptAskPreferences
	case mediaplan.StageAwaitingStartDate:
		return PromptAskStartDate
	default:
		return PromptAskWebsite
	}
}

func analysisMessage(kind mediaplan.AnalysisErrorKind) string {
	if msg, ok := analysisMessages[kind]; ok {
		return msg
	}
	return analysisMessages[mediaplan.AnalysisUpstream]
}

// collected renders the fields gathered so far, in conversation order.
func collected(state mediaplan.ConversationState) []CollectedField {
	var out []CollectedField
	add := func(field mediaplan.Field, value string) {
		if value == "" {
			return
		}
		out = append(out, CollectedField{Field: field, Label: FieldLabel(field), Value: value})
	}

	add(mediaplan.FieldWebsiteURL, state.WebsiteURL)
	if state.BusinessInfo != nil {
		add(mediaplan.FieldIndustry, state.BusinessInfo.Industry)
	}
	if state.Budget != nil {
		add(mediaplan.FieldBudget, plan.BudgetLabel(*state.Budget))
	}
	add(mediaplan.FieldPreferences, strings.Join(state.PreferenceTerms(), ", "))
	if state.CampaignStartDate != nil {
		add(mediaplan.FieldCampaignStartDate, state.CampaignStartDate.Format(dateLabelLayout))
	}
	if state.CampaignDuration != nil {
		add(mediaplan.FieldCampaignDuration, state.CampaignDuration.String())
	}
	return out
}

func sameTags(current, next []string) bool {
	return len(current) == len(next) && containsAllTags(current, next)
}

// containsAllTags reports whether every tag in next is already in current.
func containsAllTags(current, next []string) bool {
	seen := make(map[string]bool, len(current))
	for _, tag := range current {
		seen[tag] = true
	}
	for _, tag := range next {
		if !seen[strings.ToLower(strings.TrimSpace(tag))] {
			return false
		}
	}
	return true
}
