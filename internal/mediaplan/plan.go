package mediaplan

import "time"

type ExecutiveSummary struct {
	WebsiteURL  string    `json:"websiteUrl"`
	Industry    string    `json:"industry"`
	Audience    string    `json:"audience,omitempty"`
	Competitors []string  `json:"competitors,omitempty"`
	Budget      Budget    `json:"budget"`
	BudgetLabel string    `json:"budgetLabel"`
	Preferences []string  `json:"preferences"`
	StartDate   time.Time `json:"startDate"`
	Duration    string    `json:"duration,omitempty"`
}

type CreativeBlock struct {
	Channel string   `json:"channel"`
	Type    string   `json:"type"`
	Formats []string `json:"formats"`
}

type Milestone struct {
	Label      string    `json:"label"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitzero"`
	Activities []string  `json:"activities"`
}

// PlanDocument is the assembled media plan. Sections keep a fixed order:
// summary, channels, creatives, timeline.
type PlanDocument struct {
	Revision    int                 `json:"revision"`
	GeneratedAt time.Time           `json:"generatedAt"`
	Summary     ExecutiveSummary    `json:"summary"`
	Channels    []ChannelAllocation `json:"channels"`
	Creatives   []CreativeBlock     `json:"creatives"`
	Timeline    []Milestone         `json:"timeline"`
}

// SectionTitles lists the section headings in document order.
func (p PlanDocument) SectionTitles() []string {
	return []string{"Executive Summary", "Channel Breakdown", "Creative Suggestions", "Timeline"}
}

func (p PlanDocument) Clone() PlanDocument {
	out := p
	out.Summary.Competitors = cloneStrings(p.Summary.Competitors)
	out.Summary.Preferences = cloneStrings(p.Summary.Preferences)
	if p.Channels != nil {
		out.Channels = append([]ChannelAllocation(nil), p.Channels...)
	}
	if p.Creatives != nil {
		out.Creatives = make([]CreativeBlock, len(p.Creatives))
		for i, block := range p.Creatives {
			block.Formats = cloneStrings(block.Formats)
			out.Creatives[i] = block
		}
	}
	if p.Timeline != nil {
		out.Timeline = make([]Milestone, len(p.Timeline))
		for i, milestone := range p.Timeline {
			milestone.Activities = cloneStrings(milestone.Activities)
			out.Timeline[i] = milestone
		}
	}
	return out
}
