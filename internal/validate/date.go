package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mediaplan/backend/internal/mediaplan"
)

const (
	monthNames   = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`
	weekdayNames = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`
	countWords   = `\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve`
)

var (
	relativeInPattern = regexp.MustCompile(`^in\s+(` + countWords + `)\s+(day|week|month)s?$`)
	weekdayPattern    = regexp.MustCompile(`^(?:(next|this|coming)\s+)?(` + weekdayNames + `)$`)
	ordinalSuffix     = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	monthAbbrevDot    = regexp.MustCompile(`\b(jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.`)
	leadingFiller     = regexp.MustCompile(`^(?:on|from|starting|start|beginning|begin|launch|launching|around)\s+`)

	dateCandidate = regexp.MustCompile(`(?i)\b(?:` +
		`\d{4}-\d{1,2}-\d{1,2}` +
		`|\d{4}/\d{1,2}/\d{1,2}` +
		`|\d{1,2}/\d{1,2}/\d{4}` +
		`|(?:` + monthNames + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?` +
		`|\d{1,2}(?:st|nd|rd|th)?\s+(?:` + monthNames + `)\.?(?:,?\s+\d{4})?` +
		`|day after tomorrow|today|tomorrow|next week|next month|asap` +
		`|in\s+(?:` + countWords + `)\s+(?:days?|weeks?|months?)` +
		`|(?:(?:next|this|coming)\s+)?(?:` + weekdayNames + `)` +
		`)\b`)
)

var absoluteLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 January, 2006",
	"2 Jan 2006",
	"2 Jan, 2006",
}

var yearlessLayouts = []string{
	"January 2",
	"Jan 2",
	"2 January",
	"2 Jan",
}

var countWordValues = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

// Date resolves absolute and relative expressions against now. Dates before
// now's calendar day fail with InvalidDate; the result is midnight in now's
// location.
func Date(raw string, now time.Time) (time.Time, error) {
	text := normalizeDateText(raw)
	if text == "" {
		return time.Time{}, invalid(mediaplan.FieldCampaignStartDate, CodeInvalidDate, raw, "date is empty")
	}

	today := dateOnly(now)
	resolved, ok := resolveRelative(text, today)
	if !ok {
		resolved, ok = resolveAbsolute(text, today)
	}
	if !ok {
		return time.Time{}, invalid(mediaplan.FieldCampaignStartDate, CodeInvalidDate, raw, "date is not recognised")
	}
	if resolved.Before(today) {
		return time.Time{}, invalid(mediaplan.FieldCampaignStartDate, CodeInvalidDate, raw, "date is in the past")
	}
	return resolved, nil
}

func normalizeDateText(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.TrimRight(text, ".!?")
	text = strings.Join(strings.Fields(text), " ")
	for {
		stripped := leadingFiller.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}
	text = monthAbbrevDot.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "sept ", "sep ")
	return ordinalSuffix.ReplaceAllString(text, "$1")
}

func resolveRelative(text string, today time.Time) (time.Time, bool) {
	switch text {
	case "today", "now", "asap", "immediately", "right away":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	case "day after tomorrow", "the day after tomorrow":
		return today.AddDate(0, 0, 2), true
	case "next week":
		return nextWeekday(today, time.Monday, true), true
	case "next month":
		return time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, today.Location()), true
	}

	if match := relativeInPattern.FindStringSubmatch(text); match != nil {
		count, ok := parseCount(match[1])
		if !ok {
			return time.Time{}, false
		}
		switch match[2] {
		case "day":
			return today.AddDate(0, 0, count), true
		case "week":
			return today.AddDate(0, 0, 7*count), true
		default:
			return today.AddDate(0, count, 0), true
		}
	}

	if match := weekdayPattern.FindStringSubmatch(text); match != nil {
		weekday := weekdays[match[2]]
		return nextWeekday(today, weekday, match[1] == "next"), true
	}
	return time.Time{}, false
}

func resolveAbsolute(text string, today time.Time) (time.Time, bool) {
	for _, layout := range absoluteLayouts {
		if parsed, err := time.ParseInLocation(layout, text, today.Location()); err == nil {
			return parsed, true
		}
	}
	for _, layout := range yearlessLayouts {
		parsed, err := time.ParseInLocation(layout, text, today.Location())
		if err != nil {
			continue
		}
		candidate := time.Date(today.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, today.Location())
		if candidate.Before(today) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate, true
	}
	return time.Time{}, false
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// nextWeekday returns the first target weekday on or after today, or
// strictly after today when strict is set.
func nextWeekday(today time.Time, target time.Weekday, strict bool) time.Time {
	delta := (int(target) - int(today.Weekday()) + 7) % 7
	if delta == 0 && strict {
		delta = 7
	}
	return today.AddDate(0, 0, delta)
}

func parseCount(raw string) (int, bool) {
	if value, ok := countWordValues[raw]; ok {
		return value, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func dateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
