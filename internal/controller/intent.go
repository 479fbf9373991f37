package controller

import (
	"regexp"
	"strings"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/policy"
)

var (
	correctionCues = []string{
		"change", "changed", "update", "correct", "correction", "actually", "instead", "switch",
		"modify", "replace", "wrong", "meant", "edit", "revise", "increase", "decrease",
		"raise", "lower", "reduce", "make it", "make the", "set the",
	}
	affirmatives = []string{"yes", "yeah", "yep", "yup", "sure", "correct", "right", "ok", "okay", "confirm", "confirmed", "sounds good", "that s right", "go ahead"}
	negatives    = []string{"no", "nope", "nah", "wrong", "incorrect", "not right", "not quite"}
	retryCues    = []string{"retry", "try again", "again", "reanalyze", "reanalyse", "re analyze"}
	downloadCues = []string{"download", "pdf", "export", "markdown"}
	emailCues    = []string{"email", "e mail", "mail it", "send it", "send me", "send the plan"}

	// Replies that answer nothing. They never count as a preference or an industry.
	nonAnswers = map[string]bool{
		"ok": true, "okay": true, "hmm": true, "hm": true, "idk": true, "not sure": true, "no idea": true,
		"dunno": true, "i don t know": true, "whatever": true, "you decide": true, "anything": true,
		"no": true, "nope": true, "maybe": true, "yes": true, "sure": true, "thanks": true, "thank you": true,
		"hi": true, "hello": true, "what": true,
	}

	fieldKeywords = map[mediaplan.Field][]string{
		mediaplan.FieldWebsiteURL:        {"website", "site", "url", "domain", "link"},
		mediaplan.FieldIndustry:          {"industry", "sector", "business type", "category"},
		mediaplan.FieldBudget:            {"budget", "spend", "spending", "amount"},
		mediaplan.FieldPreferences:       {"preference", "preferences", "focus", "priority", "priorities"},
		mediaplan.FieldCampaignStartDate: {"date", "start", "launch", "begin", "kick off"},
		mediaplan.FieldCampaignDuration:  {"duration", "length", "long", "run for"},
	}

	// The copula is required: "lead the industry in X" names no industry.
	industryStatement = regexp.MustCompile(`(?i)\b(?:industry|sector|business type)\s*(:|=|\bis\b|\bto\b|\bwould be\b|\bshould be\b)\s*(?:an?\s+)?([^.,;!?\n]{2,80})`)
)

type intent struct {
	correction  bool
	mentioned   map[mediaplan.Field]bool
	confirmYes  bool
	confirmNo   bool
	retry       bool
	download    bool
	email       bool
	industry    string
	nonAnswer   bool
	normalized  string
	hasIndustry bool
}

func detectIntent(text string) intent {
	normalized := policy.Normalize(text)
	out := intent{
		normalized: normalized,
		mentioned:  map[mediaplan.Field]bool{},
		correction: policy.ContainsAny(normalized, correctionCues),
		retry:      policy.ContainsAny(normalized, retryCues),
		download:   policy.ContainsAny(normalized, downloadCues),
		email:      policy.ContainsAny(normalized, emailCues),
		nonAnswer:  isNonAnswer(text),
	}
	for field, keywords := range fieldKeywords {
		if policy.ContainsAny(normalized, keywords) {
			out.mentioned[field] = true
		}
	}

	trimmed := strings.TrimSpace(normalized)
	out.confirmYes = policy.ContainsAny(normalized, affirmatives) && !policy.ContainsAny(normalized, negatives)
	out.confirmNo = !out.confirmYes && policy.ContainsAny(normalized, negatives)
	if trimmed == "" {
		out.confirmYes, out.confirmNo = false, false
	}

	if match := industryStatement.FindStringSubmatch(text); match != nil {
		// "to" only reads as a value inside a change request.
		if !strings.EqualFold(match[1], "to") || out.correction {
			out.industry = strings.TrimSpace(match[2])
			out.hasIndustry = out.industry != ""
		}
	}
	return out
}

// isNonAnswer reports whether text carries no content once punctuation and
// filler are removed.
func isNonAnswer(text string) bool {
	normalized := strings.TrimSpace(policy.Normalize(text))
	return normalized == "" || nonAnswers[normalized]
}
