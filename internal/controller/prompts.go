package controller

import (
	"fmt"
	"strings"

	"mediaplan/backend/internal/mediaplan"
)

type PromptKind string

const (
	PromptWelcome              PromptKind = "welcome"
	PromptAskWebsite           PromptKind = "ask_website"
	PromptAskBudget            PromptKind = "ask_budget"
	PromptAskPreferences       PromptKind = "ask_preferences"
	PromptAskStartDate         PromptKind = "ask_start_date"
	PromptRetry                PromptKind = "retry"
	PromptFormatHint           PromptKind = "format_hint"
	PromptAnalysisFailed       PromptKind = "analysis_failed"
	PromptConfirmUnderstanding PromptKind = "confirm_understanding"
	PromptAskCorrection        PromptKind = "ask_correction"
	PromptPlanReady            PromptKind = "plan_ready"
	PromptPlanUpdated          PromptKind = "plan_updated"
	PromptDeliveryAck          PromptKind = "delivery_ack"
	PromptDone                 PromptKind = "done"
	PromptErrorRetry           PromptKind = "error_retry"
)

// PromptKinds lists every prompt the controller can return.
func PromptKinds() []PromptKind {
	return []PromptKind{
		PromptWelcome, PromptAskWebsite, PromptAskBudget, PromptAskPreferences, PromptAskStartDate,
		PromptRetry, PromptFormatHint, PromptAnalysisFailed, PromptConfirmUnderstanding, PromptAskCorrection,
		PromptPlanReady, PromptPlanUpdated, PromptDeliveryAck, PromptDone, PromptErrorRetry,
	}
}

var fieldLabels = map[mediaplan.Field]string{
	mediaplan.FieldWebsiteURL:          "website",
	mediaplan.FieldBusinessInfo:        "business details",
	mediaplan.FieldIndustry:            "industry",
	mediaplan.FieldBudget:              "budget",
	mediaplan.FieldRecommendedChannels: "channels",
	mediaplan.FieldPreferences:         "preferences",
	mediaplan.FieldCampaignStartDate:   "start date",
	mediaplan.FieldCampaignDuration:    "campaign length",
	mediaplan.FieldFinalPlan:           "plan",
}

var formatHints = map[mediaplan.Field]string{
	mediaplan.FieldWebsiteURL:        "Send the full address, for example https://example.com.",
	mediaplan.FieldIndustry:          "Describe your business in a few words, for example \"bakery\" or \"B2B software\".",
	mediaplan.FieldBudget:            "Send an amount with currency and period, for example $2,000/month or ₹5 lakh per year.",
	mediaplan.FieldPreferences:       "Name a focus such as social media, search ads, local or balanced.",
	mediaplan.FieldCampaignStartDate: "Use a date like 2025-06-01, \"next Monday\" or \"in 2 weeks\".",
	mediaplan.FieldCampaignDuration:  "Send a length such as \"3 months\" or \"6 weeks\".",
}

func FieldLabel(field mediaplan.Field) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	return string(field)
}

func FormatHint(field mediaplan.Field) string {
	return formatHints[field]
}

var questions = map[mediaplan.Field]string{
	mediaplan.FieldWebsiteURL:        "What's your business website?",
	mediaplan.FieldIndustry:          "What industry is your business in?",
	mediaplan.FieldBudget:            "What's your marketing budget? For example $2,000/month.",
	mediaplan.FieldPreferences:       "Any preferences for where to focus, such as social media, search ads or a balanced mix?",
	mediaplan.FieldCampaignStartDate: "When would you like the campaign to start?",
}

// RenderPrompt produces the default English copy for a turn result.
func RenderPrompt(r TurnResult) string {
	body := renderBody(r)
	if len(r.Ignored) == 0 {
		return body
	}
	labels := make([]string, 0, len(r.Ignored))
	for _, field := range r.Ignored {
		labels = append(labels, FieldLabel(field))
	}
	note := fmt.Sprintf("I kept your current %s. Say \"change the %s to ...\" if you want to replace it.",
		strings.Join(labels, " and "), labels[0])
	return note + " " + body
}

func renderBody(r TurnResult) string {
	question := questions[r.Field]

	switch r.PromptKind {
	case PromptWelcome:
		return "Hi! I'll help you put together a media plan for your business. " + questions[mediaplan.FieldWebsiteURL]
	case PromptAskWebsite:
		return questions[mediaplan.FieldWebsiteURL]
	case PromptAskBudget:
		if industry := collectedValue(r, mediaplan.FieldIndustry); industry != "" {
			return fmt.Sprintf("Thanks, it looks like you're in %s. %s", industry, questions[mediaplan.FieldBudget])
		}
		return questions[mediaplan.FieldBudget]
	case PromptAskPreferences:
		return "Here's where I'd put your budget:\n" + channelLines(r.Channels) + "\n" + questions[mediaplan.FieldPreferences]
	case PromptAskStartDate:
		return questions[mediaplan.FieldCampaignStartDate]
	case PromptRetry:
		if r.Error != "" {
			return fmt.Sprintf("I couldn't use that %s: %s. %s", FieldLabel(r.Field), r.Error, question)
		}
		return "Sorry, I didn't catch that. " + question
	case PromptFormatHint:
		return strings.TrimSpace(question + " " + r.Hint)
	case PromptAnalysisFailed:
		return fmt.Sprintf("I couldn't analyse %s (%s). Reply \"retry\" to try again, or tell me your industry.",
			collectedValue(r, mediaplan.FieldWebsiteURL), r.Error)
	case PromptConfirmUnderstanding:
		var b strings.Builder
		b.WriteString("Let me check I have this right:\n")
		for _, item := range r.Collected {
			fmt.Fprintf(&b, "- %s: %s\n", item.Label, item.Value)
		}
		fmt.Fprintf(&b, "I still need your %s. Is everything above correct? (yes/no)", FieldLabel(r.Field))
		return b.String()
	case PromptAskCorrection:
		return "No problem. Which detail should I change? For example: \"change the budget to $3,000/month\"."
	case PromptPlanReady:
		return fmt.Sprintf("Your media plan is ready (revision %d):\n%s", planRevision(r), channelLines(r.Channels))
	case PromptPlanUpdated:
		return fmt.Sprintf("I've updated your media plan (revision %d):\n%s", planRevision(r), channelLines(r.Channels))
	case PromptDeliveryAck:
		if r.Delivery != nil && r.Delivery.Channel == mediaplan.DeliveryEmail {
			if r.Delivery.Email == "" {
				return "Sure. Which email address should I send the plan to?"
			}
			return fmt.Sprintf("I'll email the plan to %s.", r.Delivery.Email)
		}
		return "Your plan is ready to download."
	case PromptDone:
		return "Your plan is complete. You can change the budget, start date or campaign length, or ask me to download or email it."
	case PromptErrorRetry:
		return "Something went wrong on my side. Please send that again."
	default:
		return question
	}
}

func collectedValue(r TurnResult, field mediaplan.Field) string {
	for _, item := range r.Collected {
		if item.Field == field {
			return item.Value
		}
	}
	return ""
}

func planRevision(r TurnResult) int {
	if r.Plan == nil {
		return 0
	}
	return r.Plan.Revision
}

func channelLines(channels []mediaplan.ChannelAllocation) string {
	lines := make([]string, 0, len(channels))
	for _, channel := range channels {
		lines = append(lines, fmt.Sprintf("- %s: %d%%", channel.Channel, channel.Percent))
	}
	return strings.Join(lines, "\n")
}
