// Package mediaplan holds the conversation state model shared by the
// validators, the recommendation engine, the plan assembler and the stage
// controller.
package mediaplan

type Stage string

const (
	StageAwaitingWebsite      Stage = "AWAITING_WEBSITE"
	StageAnalyzingWebsite     Stage = "ANALYZING_WEBSITE"
	StageAwaitingBudget       Stage = "AWAITING_BUDGET"
	StageRecommendingChannels Stage = "RECOMMENDING_CHANNELS"
	StageAwaitingPreferences  Stage = "AWAITING_PREFERENCES"
	StageAwaitingStartDate    Stage = "AWAITING_START_DATE"
	StageGeneratingPlan       Stage = "GENERATING_PLAN"
	StageDone                 Stage = "DONE"
)

// TransitionKind distinguishes why a stage edge may be taken.
type TransitionKind string

const (
	TransitionAdvance TransitionKind = "advance"
	TransitionStay    TransitionKind = "stay"
	TransitionCorrect TransitionKind = "correct"
)

type Transition struct {
	To   Stage
	Kind TransitionKind
}

var pipeline = []Stage{
	StageAwaitingWebsite,
	StageAnalyzingWebsite,
	StageAwaitingBudget,
	StageRecommendingChannels,
	StageAwaitingPreferences,
	StageAwaitingStartDate,
	StageGeneratingPlan,
	StageDone,
}

// validTransitions is the complete stage graph. Forward progress is always a
// single advance edge; multi-stage jumps are walked one edge at a time.
//
//nolint:gochecknoglobals // state machine definition
var validTransitions = map[Stage][]Transition{
	StageAwaitingWebsite: {
		{To: StageAwaitingWebsite, Kind: TransitionStay},
		{To: StageAnalyzingWebsite, Kind: TransitionAdvance},
	},
	StageAnalyzingWebsite: {
		{To: StageAnalyzingWebsite, Kind: TransitionStay},
		{To: StageAwaitingBudget, Kind: TransitionAdvance},
		{To: StageAwaitingWebsite, Kind: TransitionCorrect},
	},
	StageAwaitingBudget: {
		{To: StageAwaitingBudget, Kind: TransitionStay},
		{To: StageRecommendingChannels, Kind: TransitionAdvance},
		{To: StageAwaitingWebsite, Kind: TransitionCorrect},
		{To: StageAnalyzingWebsite, Kind: TransitionCorrect},
	},
	StageRecommendingChannels: {
		{To: StageRecommendingChannels, Kind: TransitionStay},
		{To: StageAwaitingPreferences, Kind: TransitionAdvance},
		{To: StageAwaitingWebsite, Kind: TransitionCorrect},
		{To: StageAnalyzingWebsite, Kind: TransitionCorrect},
		{To: StageAwaitingBudget, Kind: TransitionCorrect},
	},
	StageAwaitingPreferences: {
		{To: StageAwaitingPreferences, Kind: TransitionStay},
		{To: StageAwaitingStartDate, Kind: TransitionAdvance},
		{To: StageAwaitingWebsite, Kind: TransitionCorrect},
		{To: StageAnalyzingWebsite, Kind: TransitionCorrect},
		{To: StageAwaitingBudget, Kind: TransitionCorrect},
		{To: StageRecommendingChannels, Kind: TransitionCorrect},
	},
	StageAwaitingStartDate: {
		{To: StageAwaitingStartDate, Kind: TransitionStay},
		{To: StageGeneratingPlan, Kind: TransitionAdvance},
		{To: StageAwaitingWebsite, Kind: TransitionCorrect},
		{To: StageAnalyzingWebsite, Kind: TransitionCorrect},
		{To: StageAwaitingBudget, Kind: TransitionCorrect},
		{To: StageRecommendingChannels, Kind: TransitionCorrect},
		{To: StageAwaitingPreferences, Kind: TransitionCorrect},
	},
	StageGeneratingPlan: {
		{To: StageGeneratingPlan, Kind: TransitionStay},
		{To: StageDone, Kind: TransitionAdvance},
	},
	StageDone: {
		// Post-plan modifications reopen the pipeline at the corrected field.
		{To: StageDone, Kind: TransitionStay},
		{To: StageAwaitingWebsite, Kind: TransitionCorrect},
		{To: StageAnalyzingWebsite, Kind: TransitionCorrect},
		{To: StageAwaitingBudget, Kind: TransitionCorrect},
		{To: StageRecommendingChannels, Kind: TransitionCorrect},
		{To: StageAwaitingPreferences, Kind: TransitionCorrect},
		{To: StageAwaitingStartDate, Kind: TransitionCorrect},
		{To: StageGeneratingPlan, Kind: TransitionCorrect},
	},
}

// AllStages returns the pipeline in order.
func AllStages() []Stage {
	out := make([]Stage, len(pipeline))
	copy(out, pipeline)
	return out
}

func (s Stage) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Index is the stage's position in the pipeline, or -1 when unknown.
func (s Stage) Index() int {
	for i, candidate := range pipeline {
		if candidate == s {
			return i
		}
	}
	return -1
}

func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// IsTerminal reports whether the stage has no advance edge.
func IsTerminal(s Stage) bool {
	for _, t := range validTransitions[s] {
		if t.Kind == TransitionAdvance {
			return false
		}
	}
	return s.Valid()
}

func IsValidTransition(from, to Stage, kind TransitionKind) bool {
	for _, t := range validTransitions[from] {
		if t.To == to && t.Kind == kind {
			return true
		}
	}
	return false
}

// ValidNextStages lists every stage reachable from from in one edge.
func ValidNextStages(from Stage) []Stage {
	edges := validTransitions[from]
	out := make([]Stage, 0, len(edges))
	for _, t := range edges {
		out = append(out, t.To)
	}
	return out
}

// AdvanceFrom returns the single forward successor of from.
func AdvanceFrom(from Stage) (Stage, bool) {
	for _, t := range validTransitions[from] {
		if t.Kind == TransitionAdvance {
			return t.To, true
		}
	}
	return from, false
}

// NextStage recomputes the stage from the collected fields alone: the
// earliest stage whose prerequisite is still missing, or Done.
func NextStage(state ConversationState) Stage {
	for _, stage := range pipeline {
		field, ok := stagePrerequisite[stage]
		if !ok {
			continue
		}
		if !state.Has(field) {
			return stage
		}
	}
	return StageDone
}

// Field names a collectible fact in the conversation state.
type Field string

const (
	FieldWebsiteURL          Field = "website_url"
	FieldBusinessInfo        Field = "business_info"
	FieldIndustry            Field = "industry"
	FieldBudget              Field = "budget"
	FieldRecommendedChannels Field = "recommended_channels"
	FieldPreferences         Field = "preferences"
	FieldCampaignStartDate   Field = "campaign_start_date"
	FieldCampaignDuration    Field = "campaign_duration"
	FieldFinalPlan           Field = "final_plan"
)

var stagePrerequisite = map[Stage]Field{
	StageAwaitingWebsite:      FieldWebsiteURL,
	StageAnalyzingWebsite:     FieldBusinessInfo,
	StageAwaitingBudget:       FieldBudget,
	StageRecommendingChannels: FieldRecommendedChannels,
	StageAwaitingPreferences:  FieldPreferences,
	StageAwaitingStartDate:    FieldCampaignStartDate,
	StageGeneratingPlan:       FieldFinalPlan,
}

// RequiredField is the field a stage collects. Done collects nothing.
func RequiredField(stage Stage) (Field, bool) {
	field, ok := stagePrerequisite[stage]
	return field, ok
}

// StageForField is the stage that collects field.
func StageForField(field Field) (Stage, bool) {
	if field == FieldIndustry {
		return StageAnalyzingWebsite, true
	}
	for stage, candidate := range stagePrerequisite {
		if candidate == field {
			return stage, true
		}
	}
	return "", false
}

// Downstream lists the fields derived from field that a correction must clear.
func Downstream(field Field) []Field {
	switch field {
	case FieldWebsiteURL:
		return []Field{FieldBusinessInfo, FieldRecommendedChannels, FieldFinalPlan}
	case FieldBusinessInfo, FieldIndustry, FieldBudget, FieldPreferences:
		return []Field{FieldRecommendedChannels, FieldFinalPlan}
	case FieldRecommendedChannels, FieldCampaignStartDate, FieldCampaignDuration:
		return []Field{FieldFinalPlan}
	default:
		return nil
	}
}
