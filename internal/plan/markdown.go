package plan

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"mediaplan/backend/internal/mediaplan"
)

// RenderMarkdown renders doc for export and terminal display.
func RenderMarkdown(doc mediaplan.PlanDocument) string {
	titles := doc.SectionTitles()
	var b strings.Builder

	fmt.Fprintf(&b, "# Media Plan (revision %d)\n\n", doc.Revision)

	s := doc.Summary
	fmt.Fprintf(&b, "## %s\n\n", titles[0])
	if s.WebsiteURL != "" {
		fmt.Fprintf(&b, "- **Website:** %s\n", s.WebsiteURL)
	}
	fmt.Fprintf(&b, "- **Industry:** %s\n", s.Industry)
	if s.Audience != "" {
		fmt.Fprintf(&b, "- **Audience:** %s\n", s.Audience)
	}
	if len(s.Competitors) > 0 {
		fmt.Fprintf(&b, "- **Competitors:** %s\n", strings.Join(s.Competitors, ", "))
	}
	fmt.Fprintf(&b, "- **Budget:** %s\n", s.BudgetLabel)
	fmt.Fprintf(&b, "- **Preferences:** %s\n", strings.Join(s.Preferences, ", "))
	fmt.Fprintf(&b, "- **Start date:** %s\n", s.StartDate.Format(dayLayout))
	if s.Duration != "" {
		fmt.Fprintf(&b, "- **Duration:** %s\n", s.Duration)
	}

	fmt.Fprintf(&b, "\n## %s\n\n", titles[1])
	b.WriteString("| Channel | Share | Monthly amount | Why |\n|---|---|---|---|\n")
	for _, channel := range doc.Channels {
		fmt.Fprintf(&b, "| %s | %d%% | %s %s | %s |\n",
			channel.Channel, channel.Percent, s.Budget.Currency, humanize.CommafWithDigits(channel.Amount, 2), channel.Rationale)
	}

	fmt.Fprintf(&b, "\n## %s\n\n", titles[2])
	for _, block := range doc.Creatives {
		fmt.Fprintf(&b, "- **%s:** %s\n", block.Channel, strings.Join(block.Formats, ", "))
	}

	fmt.Fprintf(&b, "\n## %s\n\n", titles[3])
	for _, milestone := range doc.Timeline {
		fmt.Fprintf(&b, "### %s (%s)\n\n", milestone.Label, formatRange(milestone))
		for _, activity := range milestone.Activities {
			fmt.Fprintf(&b, "- %s\n", activity)
		}
		b.WriteString("\n")
	}
	return b.String()
}
