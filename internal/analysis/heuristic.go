package analysis

import (
	"net/url"
	"strings"

	"mediaplan/backend/internal/brave"
	"mediaplan/backend/internal/policy"
)

const maxListItems = 5

// classifyIndustry scores every industry in the policy table by how many of
// its keywords occur in text and returns the best one. Ties keep table
// order.
func classifyIndustry(p *policy.Policy, text string) (string, bool) {
	normalized := policy.Normalize(text)
	if normalized == "" {
		return "", false
	}
	best, bestScore := "", 0
	for _, industry := range p.Industries {
		score := 0
		for _, keyword := range industry.Keywords {
			needle := policy.Normalize(keyword)
			if needle == "" {
				continue
			}
			score += strings.Count(normalized, needle)
		}
		if score > bestScore {
			best, bestScore = industry.Name, score
		}
	}
	return best, bestScore > 0
}

// competitorsFromResults names the search hits that are not the analysed
// site itself.
func competitorsFromResults(siteURL string, results []brave.SearchResult) []string {
	siteHost := hostOf(siteURL)
	seen := make(map[string]struct{}, len(results))
	var out []string
	for _, result := range results {
		if result.Host == "" || result.Host == siteHost {
			continue
		}
		name := shortTitle(result.Title)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
		if len(out) >= maxListItems {
			break
		}
	}
	return out
}

// shortTitle drops the tagline most result titles carry after a separator.
func shortTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, sep := range []string{" | ", " - ", " – ", " — ", ": "} {
		if idx := strings.Index(title, sep); idx > 0 {
			title = title[:idx]
		}
	}
	return strings.TrimSpace(title)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// Country-code domains that are sold as generic names and say nothing about
// where the business trades.
var genericCCTLDs = map[string]bool{"ai": true, "co": true, "io": true, "ly": true, "me": true, "tv": true}

// marketForHost guesses the search market from a country-code domain, so an
// Indian bakery is compared with Indian competitors.
func marketForHost(host string) string {
	idx := strings.LastIndexByte(host, '.')
	if idx < 0 {
		return ""
	}
	tld := host[idx+1:]
	switch {
	case len(tld) != 2, genericCCTLDs[tld]:
		return ""
	case tld == "uk":
		return "GB"
	}
	return strings.ToUpper(tld)
}
