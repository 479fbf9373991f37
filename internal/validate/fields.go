package validate

import (
	"regexp"
	"strings"

	"mediaplan/backend/internal/mediaplan"
)

var durationExact = regexp.MustCompile(`^(?:(?:for|over|lasting|run for|running for|duration of|a duration of)\s+)?(` + countWords + `)[\s-]*(day|week|month|year)s?(?:\s+(?:campaign|run|duration|long))?$`)

const maxCampaignMonths = 60

// Preference accepts any non-blank text.
func Preference(raw string) (string, error) {
	trimmed := strings.Join(strings.Fields(raw), " ")
	if trimmed == "" {
		return "", invalid(mediaplan.FieldPreferences, CodeEmptyPreference, raw, "preference is empty")
	}
	return trimmed, nil
}

// Industry accepts a manually entered industry label.
func Industry(raw string) (string, error) {
	trimmed := strings.Join(strings.Fields(strings.Trim(raw, " .!\t\n")), " ")
	if trimmed == "" {
		return "", invalid(mediaplan.FieldIndustry, CodeEmptyIndustry, raw, "industry is empty")
	}
	return trimmed, nil
}

// Duration parses a campaign length such as "3 months" or "for six weeks".
// Years are stored as months.
func Duration(raw string) (mediaplan.Duration, error) {
	text := strings.ToLower(strings.Join(strings.Fields(strings.TrimRight(strings.TrimSpace(raw), ".!")), " "))
	match := durationExact.FindStringSubmatch(text)
	if match == nil {
		return mediaplan.Duration{}, invalid(mediaplan.FieldCampaignDuration, CodeInvalidDuration, raw, "duration is not recognised")
	}
	count, ok := parseCount(match[1])
	if !ok {
		return mediaplan.Duration{}, invalid(mediaplan.FieldCampaignDuration, CodeInvalidDuration, raw, "duration must be positive")
	}

	out := mediaplan.Duration{Count: count}
	switch match[2] {
	case "day":
		out.Unit = mediaplan.UnitDay
	case "week":
		out.Unit = mediaplan.UnitWeek
	case "month":
		out.Unit = mediaplan.UnitMonth
	case "year":
		out.Unit = mediaplan.UnitMonth
		out.Count = count * 12
	}
	if out.Unit == mediaplan.UnitMonth && out.Count > maxCampaignMonths {
		return mediaplan.Duration{}, invalid(mediaplan.FieldCampaignDuration, CodeInvalidDuration, raw, "duration is longer than five years")
	}
	return out, nil
}
