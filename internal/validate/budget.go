package validate

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/currency"

	"mediaplan/backend/internal/mediaplan"
)

const (
	currencyPrefix = `(?:(?P<sym>[$€£₹¥])\s*|\b(?P<code>usd|eur|gbp|inr|jpy|cad|aud|rs\.?)\s*)?`
	amountCore     = `(?P<num>[-+]?\d[\d,]*(?:\.\d+)?|[-+]?\.\d+)`
	magnitude      = `(?:\s*(?P<mag>k|mn|m|million|thousand|lakhs?|lacs?|crores?|cr)\b)?`
	currencySuffix = `(?:\s*(?P<word>usd|eur|gbp|inr|jpy|cad|aud|dollars?|rupees?|euros?|pounds?|yen)\b)?`
	periodSuffix   = `(?:\s*(?P<period>(?:/|per|a|an|each|every)\s*(?:month|mo|year|yr|annum|week|wk|day)\b|monthly|yearly|annually|weekly|daily|one[- ]?time|in total|total))?`
	budgetExpr     = currencyPrefix + amountCore + magnitude + currencySuffix + periodSuffix
)

var (
	budgetExact     = regexp.MustCompile(`(?i)^\s*` + budgetExpr + `\s*[.!]?\s*$`)
	budgetCandidate = regexp.MustCompile(`(?i)` + budgetExpr)
)

var symbolCurrencies = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"₹": "INR",
	"¥": "JPY",
}

var wordCurrencies = map[string]string{
	"rs":     "INR",
	"rs.":    "INR",
	"dollar": "USD",
	"rupee":  "INR",
	"euro":   "EUR",
	"pound":  "GBP",
	"yen":    "JPY",
}

var magnitudes = map[string]float64{
	"k":        1e3,
	"thousand": 1e3,
	"m":        1e6,
	"mn":       1e6,
	"million":  1e6,
	"lakh":     1e5,
	"lac":      1e5,
	"crore":    1e7,
	"cr":       1e7,
}

// Budget parses an amount such as "$2,000/month", "5 lakh per month" or
// "EUR 12k yearly". The result is positive and finite; anything else fails
// with InvalidBudget.
func Budget(raw, defaultCurrency string) (mediaplan.Budget, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return mediaplan.Budget{}, invalid(mediaplan.FieldBudget, CodeInvalidBudget, raw, "budget is empty")
	}
	match := budgetExact.FindStringSubmatch(trimmed)
	if match == nil {
		return mediaplan.Budget{}, invalid(mediaplan.FieldBudget, CodeInvalidBudget, raw, "no amount found")
	}
	return budgetFromMatch(budgetExact, match, raw, defaultCurrency)
}

func budgetFromMatch(re *regexp.Regexp, match []string, raw, defaultCurrency string) (mediaplan.Budget, error) {
	group := func(name string) string {
		return strings.ToLower(strings.TrimSpace(match[re.SubexpIndex(name)]))
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(group("num"), ",", ""), 64)
	if err != nil {
		return mediaplan.Budget{}, invalid(mediaplan.FieldBudget, CodeInvalidBudget, raw, "amount is not a number")
	}

	mag := group("mag")
	if mag != "" {
		amount *= magnitudes[strings.TrimSuffix(mag, "s")]
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return mediaplan.Budget{}, invalid(mediaplan.FieldBudget, CodeInvalidBudget, raw, "amount is not finite")
	}
	if amount <= 0 {
		return mediaplan.Budget{}, invalid(mediaplan.FieldBudget, CodeInvalidBudget, raw, "amount must be positive")
	}

	code, err := resolveCurrency(group("sym"), group("code"), group("word"), mag, defaultCurrency)
	if err != nil {
		return mediaplan.Budget{}, invalid(mediaplan.FieldBudget, CodeInvalidBudget, raw, err.Error())
	}

	return mediaplan.Budget{
		Amount:   amount,
		Currency: code,
		Period:   resolvePeriod(group("period")),
		Raw:      strings.TrimSpace(raw),
	}, nil
}

func resolveCurrency(symbol, code, word, mag, defaultCurrency string) (string, error) {
	candidate := ""
	switch {
	case symbol != "":
		candidate = symbolCurrencies[symbol]
	case code != "":
		candidate = code
		if mapped, ok := wordCurrencies[code]; ok {
			candidate = mapped
		}
	case word != "":
		candidate = word
		if mapped, ok := wordCurrencies[strings.TrimSuffix(word, "s")]; ok {
			candidate = mapped
		}
	case strings.HasPrefix(mag, "lakh"), strings.HasPrefix(mag, "lac"), strings.HasPrefix(mag, "cr"):
		candidate = "INR"
	default:
		candidate = defaultCurrency
	}

	unit, err := currency.ParseISO(strings.ToUpper(candidate))
	if err != nil {
		return "", err
	}
	return unit.String(), nil
}

func resolvePeriod(raw string) mediaplan.BudgetPeriod {
	fields := strings.Fields(strings.NewReplacer("/", " ", "-", " ").Replace(raw))
	if len(fields) == 0 {
		return mediaplan.PeriodMonthly
	}
	switch fields[len(fields)-1] {
	case "year", "yr", "annum", "yearly", "annually":
		return mediaplan.PeriodYearly
	case "week", "wk", "weekly":
		return mediaplan.PeriodWeekly
	case "day", "daily":
		return mediaplan.PeriodDaily
	case "time", "onetime", "total":
		return mediaplan.PeriodOneTime
	default:
		return mediaplan.PeriodMonthly
	}
}
