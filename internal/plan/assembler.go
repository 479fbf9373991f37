// Package plan assembles the final media plan document from a completed
// conversation state.
package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/policy"
)

var ErrIncompletePlanInput = errors.New("plan inputs incomplete")

const dayLayout = "Jan 2, 2006"

type Assembler struct {
	policy policy.Policy
	now    func() time.Time
}

type Option func(*Assembler)

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAssembler(p policy.Policy, opts ...Option) *Assembler {
	a := &Assembler{policy: p, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the next revision of the plan. Every section is derived
// from state; nothing is invented.
func (a *Assembler) Assemble(state mediaplan.ConversationState) (mediaplan.PlanDocument, error) {
	missing := state.Missing(
		mediaplan.FieldIndustry,
		mediaplan.FieldBudget,
		mediaplan.FieldRecommendedChannels,
		mediaplan.FieldPreferences,
		mediaplan.FieldCampaignStartDate,
	)
	if len(missing) > 0 {
		return mediaplan.PlanDocument{}, &mediaplan.ContractViolation{Component: "plan", Missing: missing, Err: ErrIncompletePlanInput}
	}

	start := *state.CampaignStartDate
	doc := mediaplan.PlanDocument{
		Revision:    state.PlanRevision + 1,
		GeneratedAt: a.now().UTC(),
		Summary:     summary(state),
		Channels:    append([]mediaplan.ChannelAllocation(nil), state.RecommendedChannels...),
		Creatives:   a.creatives(state.RecommendedChannels),
		Timeline:    a.timeline(start, state.CampaignDuration, state.RecommendedChannels),
	}
	return doc, nil
}

func summary(state mediaplan.ConversationState) mediaplan.ExecutiveSummary {
	info := state.BusinessInfo
	out := mediaplan.ExecutiveSummary{
		WebsiteURL:  state.WebsiteURL,
		Industry:    info.Industry,
		Audience:    info.Audience,
		Competitors: append([]string(nil), info.Competitors...),
		Budget:      *state.Budget,
		BudgetLabel: BudgetLabel(*state.Budget),
		Preferences: state.PreferenceTerms(),
		StartDate:   *state.CampaignStartDate,
	}
	if state.CampaignDuration != nil {
		out.Duration = state.CampaignDuration.String()
	}
	return out
}

func (a *Assembler) creatives(channels []mediaplan.ChannelAllocation) []mediaplan.CreativeBlock {
	out := make([]mediaplan.CreativeBlock, 0, len(channels))
	for _, channel := range channels {
		out = append(out, mediaplan.CreativeBlock{
			Channel: channel.Channel,
			Type:    channel.Type,
			Formats: append([]string(nil), a.policy.Formats(channel.Type)...),
		})
	}
	return out
}

var weeklyThemes = []struct {
	label    string
	activity func(lead string) []string
}{
	{"Setup & launch", func(lead string) []string {
		return []string{"Install conversion tracking and analytics", "Launch " + lead + " with the first creative set"}
	}},
	{"Early read", func(string) []string {
		return []string{"Review spend pacing against the allocation", "Pause underperforming ads"}
	}},
	{"Creative testing", func(string) []string {
		return []string{"A/B test headlines and visuals", "Refresh the lowest-CTR creative"}
	}},
	{"Review & rebalance", func(string) []string {
		return []string{"Compare cost per result across channels", "Shift budget toward the best performer"}
	}},
}

func (a *Assembler) timeline(start time.Time, duration *mediaplan.Duration, channels []mediaplan.ChannelAllocation) []mediaplan.Milestone {
	lead := "the lead channel"
	if len(channels) > 0 {
		lead = channels[0].Channel
	}

	var end time.Time
	if duration != nil {
		end = duration.EndFrom(start).AddDate(0, 0, -1)
	}

	weeks := a.policy.TimelineWeeks
	out := make([]mediaplan.Milestone, 0, weeks+1)
	for week := range weeks {
		weekStart := start.AddDate(0, 0, 7*week)
		if !end.IsZero() && weekStart.After(end) {
			return out
		}
		weekEnd := weekStart.AddDate(0, 0, 6)
		if !end.IsZero() && weekEnd.After(end) {
			weekEnd = end
		}
		theme := weeklyThemes[week%len(weeklyThemes)]
		out = append(out, mediaplan.Milestone{
			Label:      fmt.Sprintf("Week %d: %s", week+1, theme.label),
			Start:      weekStart,
			End:        weekEnd,
			Activities: theme.activity(lead),
		})
	}

	ongoingStart := start.AddDate(0, 0, 7*weeks)
	if !end.IsZero() && ongoingStart.After(end) {
		return out
	}
	return append(out, mediaplan.Milestone{
		Label:      "Ongoing optimisation",
		Start:      ongoingStart,
		End:        end,
		Activities: []string{"Monthly performance report", "Rebalance channel split on results", "Rotate creatives every four weeks"},
	})
}

// BudgetLabel formats a budget such as "USD 2,000 per month".
func BudgetLabel(b mediaplan.Budget) string {
	amount := humanize.CommafWithDigits(b.Amount, 2)
	label := strings.TrimSpace(b.Currency + " " + amount)
	switch b.Period {
	case mediaplan.PeriodYearly:
		return label + " per year"
	case mediaplan.PeriodWeekly:
		return label + " per week"
	case mediaplan.PeriodDaily:
		return label + " per day"
	case mediaplan.PeriodOneTime:
		return label + " one-time"
	default:
		return label + " per month"
	}
}

func formatRange(m mediaplan.Milestone) string {
	if m.End.IsZero() {
		return m.Start.Format(dayLayout) + " onward"
	}
	return m.Start.Format(dayLayout) + " - " + m.End.Format(dayLayout)
}
