package validate

import (
	"regexp"
	"strings"
	"time"

	"mediaplan/backend/internal/mediaplan"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	urlPattern   = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+|\b(?:www\.)?[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,24}\b(?:/[^\s<>"']*)?`)
	durationCue  = regexp.MustCompile(`(?i)\b(?:duration|length|long)\b`)
	budgetCue    = regexp.MustCompile(`(?i)\b(?:budget|spend|spending|invest|investment)\b`)
	bareDuration = regexp.MustCompile(`(?i)\b(?:` + countWords + `)[\s-]*(?:days?|weeks?|months?|years?)\b`)
)

var durationCandidate = regexp.MustCompile(`(?i)\b(?:(?:for|over|lasting|run for|running for|duration of)\s+(?:` + countWords + `)[\s-]*(?:days?|weeks?|months?|years?)` +
	`|(?:` + countWords + `)[\s-]*(?:days?|weeks?|months?|years?)\s+(?:campaign|run|duration))\b`)

const (
	trailingPunct = ".,;:!?)]}'\""
	remainderTrim = " \t\n.,;:!?-"
)

// TagDetector finds enumerated preference tags in free text.
type TagDetector interface {
	DetectFocusTags(text string) []string
}

type Options struct {
	DefaultCurrency string
	Tags            TagDetector
	// ExpectBudget accepts bare numbers as budgets.
	ExpectBudget bool
	// ExpectDuration accepts bare lengths such as "6 months" as durations.
	ExpectDuration bool
}

// Candidate is one field located in a turn. Found without Err means the
// value validated.
type Candidate[T any] struct {
	Found bool
	Raw   string
	Value T
	Err   error
}

func (c Candidate[T]) Valid() bool {
	return c.Found && c.Err == nil
}

type Candidates struct {
	URL       Candidate[string]
	Budget    Candidate[mediaplan.Budget]
	StartDate Candidate[time.Time]
	Duration  Candidate[mediaplan.Duration]
	Emails    []string
	FocusTags []string
	// Remainder is the turn text with every located field removed.
	Remainder string
}

// Extract locates every collectible field in a single turn and validates
// each candidate. Fields are located in a fixed order (emails, URL, date,
// duration, budget) and each match is blanked before the next search so a
// span is never claimed twice.
func Extract(text string, now time.Time, opts Options) Candidates {
	working := []byte(text)
	var out Candidates

	for _, loc := range emailPattern.FindAllIndex(working, -1) {
		out.Emails = append(out.Emails, string(working[loc[0]:loc[1]]))
		blank(working, loc)
	}

	if loc := urlPattern.FindIndex(working); loc != nil {
		raw := strings.TrimRight(string(working[loc[0]:loc[1]]), trailingPunct)
		loc[1] = loc[0] + len(raw)
		candidate := raw
		if !strings.Contains(strings.ToLower(raw), "://") {
			candidate = "https://" + raw
		}
		value, err := URL(candidate)
		out.URL = Candidate[string]{Found: true, Raw: raw, Value: value, Err: err}
		blankAll(working, urlPattern)
	}

	if loc := dateCandidate.FindIndex(working); loc != nil {
		raw := string(working[loc[0]:loc[1]])
		value, err := Date(raw, now)
		out.StartDate = Candidate[time.Time]{Found: true, Raw: raw, Value: value, Err: err}
		blank(working, loc)
	}

	durationRe := durationCandidate
	if opts.ExpectDuration || durationCue.Match(working) {
		if durationCandidate.FindIndex(working) == nil {
			durationRe = bareDuration
		}
	}
	if loc := durationRe.FindIndex(working); loc != nil {
		raw := string(working[loc[0]:loc[1]])
		value, err := Duration(raw)
		out.Duration = Candidate[mediaplan.Duration]{Found: true, Raw: raw, Value: value, Err: err}
		blank(working, loc)
	}

	acceptBare := opts.ExpectBudget || budgetCue.Match(working)
	for _, match := range budgetCandidate.FindAllSubmatchIndex(working, -1) {
		if !acceptBare && !hasBudgetMarker(match) {
			continue
		}
		loc := []int{match[0], match[1]}
		raw := strings.TrimSpace(string(working[loc[0]:loc[1]]))
		value, err := Budget(raw, opts.DefaultCurrency)
		out.Budget = Candidate[mediaplan.Budget]{Found: true, Raw: raw, Value: value, Err: err}
		blank(working, loc)
		break
	}

	remainder := strings.Join(strings.Fields(string(working)), " ")
	out.Remainder = strings.Trim(remainder, remainderTrim)
	if opts.Tags != nil {
		out.FocusTags = opts.Tags.DetectFocusTags(out.Remainder)
	}
	return out
}

// AnyValid reports whether at least one field validated.
func (c Candidates) AnyValid() bool {
	return c.URL.Valid() || c.Budget.Valid() || c.StartDate.Valid() || c.Duration.Valid() || len(c.FocusTags) > 0
}

func hasBudgetMarker(match []int) bool {
	for _, name := range []string{"sym", "code", "word", "mag", "period"} {
		idx := budgetCandidate.SubexpIndex(name)
		if idx >= 0 && match[2*idx] >= 0 && match[2*idx+1] > match[2*idx] {
			return true
		}
	}
	return false
}

func blank(buf []byte, loc []int) {
	for i := loc[0]; i < loc[1] && i < len(buf); i++ {
		buf[i] = ' '
	}
}

func blankAll(buf []byte, re *regexp.Regexp) {
	for _, loc := range re.FindAllIndex(buf, -1) {
		blank(buf, loc)
	}
}
