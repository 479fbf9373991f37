package mediaplan

import (
	"strconv"
	"strings"
	"time"
)

type InfoSource string

const (
	SourceAnalysis InfoSource = "analysis"
	SourceManual   InfoSource = "manual"
)

type BusinessInfo struct {
	Industry    string     `json:"industry"`
	Competitors []string   `json:"competitors,omitempty"`
	Audience    string     `json:"audience,omitempty"`
	Products    []string   `json:"products,omitempty"`
	Source      InfoSource `json:"source"`
	AnalyzedURL string     `json:"analyzedUrl,omitempty"`
}

type BudgetPeriod string

const (
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodYearly  BudgetPeriod = "yearly"
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodDaily   BudgetPeriod = "daily"
	PeriodOneTime BudgetPeriod = "one_time"
)

type Budget struct {
	Amount   float64      `json:"amount"`
	Currency string       `json:"currency"`
	Period   BudgetPeriod `json:"period"`
	Raw      string       `json:"raw,omitempty"`
}

// Monthly normalises the amount to a monthly spend. One-time budgets are
// treated as a single month.
func (b Budget) Monthly() float64 {
	switch b.Period {
	case PeriodYearly:
		return b.Amount / 12
	case PeriodWeekly:
		return b.Amount * 52 / 12
	case PeriodDaily:
		return b.Amount * 365 / 12
	default:
		return b.Amount
	}
}

type DurationUnit string

const (
	UnitDay   DurationUnit = "day"
	UnitWeek  DurationUnit = "week"
	UnitMonth DurationUnit = "month"
)

type Duration struct {
	Count int          `json:"count"`
	Unit  DurationUnit `json:"unit"`
}

// EndFrom returns the first day after a campaign of this length starting at start.
func (d Duration) EndFrom(start time.Time) time.Time {
	switch d.Unit {
	case UnitWeek:
		return start.AddDate(0, 0, 7*d.Count)
	case UnitMonth:
		return start.AddDate(0, d.Count, 0)
	default:
		return start.AddDate(0, 0, d.Count)
	}
}

func (d Duration) String() string {
	unit := string(d.Unit)
	if d.Count != 1 {
		unit += "s"
	}
	return strconv.Itoa(d.Count) + " " + unit
}

type ChannelAllocation struct {
	Channel   string  `json:"channel"`
	Type      string  `json:"type"`
	Percent   int     `json:"percent"`
	Amount    float64 `json:"amount"`
	Rationale string  `json:"rationale"`
}

type AnalysisFailure struct {
	URL     string            `json:"url"`
	Kind    AnalysisErrorKind `json:"kind"`
	Message string            `json:"message"`
}

type DeliveryChannel string

const (
	DeliveryDownload DeliveryChannel = "download"
	DeliveryEmail    DeliveryChannel = "email"
)

type DeliveryRequest struct {
	Channel     DeliveryChannel `json:"channel"`
	Email       string          `json:"email,omitempty"`
	RequestedAt time.Time       `json:"requestedAt"`
	Revision    int             `json:"revision"`
}

// ConversationState is the single source of truth for one thread. The stage
// controller owns it; everything else reads copies.
type ConversationState struct {
	ThreadID             string              `json:"threadId"`
	Stage                Stage               `json:"stage"`
	WebsiteURL           string              `json:"websiteUrl,omitempty"`
	BusinessInfo         *BusinessInfo       `json:"businessInfo,omitempty"`
	Budget               *Budget             `json:"budget,omitempty"`
	Preferences          []string            `json:"preferences,omitempty"`
	FocusTags            []string            `json:"focusTags,omitempty"`
	CampaignStartDate    *time.Time          `json:"campaignStartDate,omitempty"`
	CampaignDuration     *Duration           `json:"campaignDuration,omitempty"`
	RecommendedChannels  []ChannelAllocation `json:"recommendedChannels,omitempty"`
	FinalPlan            *PlanDocument       `json:"finalPlan,omitempty"`
	PlanRevision         int                 `json:"planRevision"`
	InvalidAttempts      map[Stage]int       `json:"invalidAttempts,omitempty"`
	StalledTurns         int                 `json:"stalledTurns"`
	AwaitingConfirmation bool                `json:"awaitingConfirmation,omitempty"`
	AnalysisFailure      *AnalysisFailure    `json:"analysisFailure,omitempty"`
	Delivery             *DeliveryRequest    `json:"delivery,omitempty"`
	HistoryRef           string              `json:"historyRef,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

func NewState(threadID string, now time.Time) ConversationState {
	return ConversationState{
		ThreadID:        threadID,
		Stage:           StageAwaitingWebsite,
		InvalidAttempts: map[Stage]int{},
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
}

// Has reports whether field is present.
func (s ConversationState) Has(field Field) bool {
	switch field {
	case FieldWebsiteURL:
		return strings.TrimSpace(s.WebsiteURL) != ""
	case FieldBusinessInfo:
		return s.BusinessInfo != nil
	case FieldIndustry:
		return s.BusinessInfo != nil && strings.TrimSpace(s.BusinessInfo.Industry) != ""
	case FieldBudget:
		return s.Budget != nil
	case FieldRecommendedChannels:
		return len(s.RecommendedChannels) > 0
	case FieldPreferences:
		return len(s.Preferences) > 0 || len(s.FocusTags) > 0
	case FieldCampaignStartDate:
		return s.CampaignStartDate != nil
	case FieldCampaignDuration:
		return s.CampaignDuration != nil
	case FieldFinalPlan:
		return s.FinalPlan != nil
	default:
		return false
	}
}

// Missing lists which of fields are absent, in the given order.
func (s ConversationState) Missing(fields ...Field) []Field {
	var out []Field
	for _, field := range fields {
		if !s.Has(field) {
			out = append(out, field)
		}
	}
	return out
}

// Clear removes a field. Clearing the industry clears the whole business record.
func (s *ConversationState) Clear(field Field) {
	switch field {
	case FieldWebsiteURL:
		s.WebsiteURL = ""
		s.AnalysisFailure = nil
	case FieldBusinessInfo, FieldIndustry:
		s.BusinessInfo = nil
		s.AnalysisFailure = nil
	case FieldBudget:
		s.Budget = nil
	case FieldRecommendedChannels:
		s.RecommendedChannels = nil
	case FieldPreferences:
		s.Preferences = nil
		s.FocusTags = nil
	case FieldCampaignStartDate:
		s.CampaignStartDate = nil
	case FieldCampaignDuration:
		s.CampaignDuration = nil
	case FieldFinalPlan:
		s.FinalPlan = nil
		s.Delivery = nil
	}
}

// AddPreference appends a preference entry unless an equal one exists.
func (s *ConversationState) AddPreference(entry string) bool {
	trimmed := strings.TrimSpace(entry)
	if trimmed == "" {
		return false
	}
	for _, existing := range s.Preferences {
		if strings.EqualFold(existing, trimmed) {
			return false
		}
	}
	s.Preferences = append(s.Preferences, trimmed)
	return true
}

// AddFocusTag records an enumerated preference tag, keeping first-seen order.
func (s *ConversationState) AddFocusTag(tag string) bool {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	if normalized == "" {
		return false
	}
	for _, existing := range s.FocusTags {
		if existing == normalized {
			return false
		}
	}
	s.FocusTags = append(s.FocusTags, normalized)
	return true
}

// PreferenceTerms returns focus tags followed by free-text preferences.
func (s ConversationState) PreferenceTerms() []string {
	out := make([]string, 0, len(s.FocusTags)+len(s.Preferences))
	out = append(out, s.FocusTags...)
	out = append(out, s.Preferences...)
	return out
}

func (s ConversationState) InvalidAttemptsAt(stage Stage) int {
	if s.InvalidAttempts == nil {
		return 0
	}
	return s.InvalidAttempts[stage]
}

func (s *ConversationState) ResetCounters() {
	s.InvalidAttempts = map[Stage]int{}
	s.StalledTurns = 0
	s.AwaitingConfirmation = false
}

// Clone returns a deep copy so a turn can be discarded without touching the
// stored state.
func (s ConversationState) Clone() ConversationState {
	out := s
	if s.BusinessInfo != nil {
		info := *s.BusinessInfo
		info.Competitors = cloneStrings(s.BusinessInfo.Competitors)
		info.Products = cloneStrings(s.BusinessInfo.Products)
		out.BusinessInfo = &info
	}
	if s.Budget != nil {
		budget := *s.Budget
		out.Budget = &budget
	}
	out.Preferences = cloneStrings(s.Preferences)
	out.FocusTags = cloneStrings(s.FocusTags)
	if s.CampaignStartDate != nil {
		start := *s.CampaignStartDate
		out.CampaignStartDate = &start
	}
	if s.CampaignDuration != nil {
		duration := *s.CampaignDuration
		out.CampaignDuration = &duration
	}
	if s.RecommendedChannels != nil {
		out.RecommendedChannels = append([]ChannelAllocation(nil), s.RecommendedChannels...)
	}
	if s.FinalPlan != nil {
		plan := s.FinalPlan.Clone()
		out.FinalPlan = &plan
	}
	out.InvalidAttempts = make(map[Stage]int, len(s.InvalidAttempts))
	for stage, count := range s.InvalidAttempts {
		out.InvalidAttempts[stage] = count
	}
	if s.AnalysisFailure != nil {
		failure := *s.AnalysisFailure
		out.AnalysisFailure = &failure
	}
	if s.Delivery != nil {
		delivery := *s.Delivery
		out.Delivery = &delivery
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
