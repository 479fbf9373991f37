// Package recommend ranks marketing channels for a business and splits its
// budget across them. The engine is deterministic: the same industry, budget
// and preferences always produce the same allocation.
package recommend

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/policy"
)

var ErrMissingPrerequisite = errors.New("recommendation needs an industry and a budget")

type Engine struct {
	policy policy.Policy
}

func NewEngine(p policy.Policy) Engine {
	return Engine{policy: p}
}

type scoredChannel struct {
	channel policy.Channel
	index   int
	score   float64
	boosts  []string
}

// Recommend returns the ranked allocation for the industry's candidate
// channels. Percentages always sum to exactly 100.
func (e Engine) Recommend(industry string, budget *mediaplan.Budget, preferences []string) ([]mediaplan.ChannelAllocation, error) {
	var missing []mediaplan.Field
	if strings.TrimSpace(industry) == "" {
		missing = append(missing, mediaplan.FieldIndustry)
	}
	if budget == nil || !(budget.Amount > 0) || math.IsInf(budget.Amount, 0) {
		missing = append(missing, mediaplan.FieldBudget)
	}
	if len(missing) > 0 {
		return nil, &mediaplan.ContractViolation{Component: "recommend", Missing: missing, Err: ErrMissingPrerequisite}
	}

	category, candidates := e.candidates(industry)
	ranked := e.score(candidates, preferences)

	monthly := budget.Monthly()
	threshold := e.policy.LowSpendThreshold(budget.Currency)
	lowBudget := monthly < threshold && len(ranked) > e.policy.LowBudgetChannelCount
	if lowBudget {
		ranked = ranked[:e.policy.LowBudgetChannelCount]
	}

	percents := largestRemainder(ranked)
	out := make([]mediaplan.ChannelAllocation, 0, len(ranked))
	for i, item := range ranked {
		if percents[i] == 0 {
			continue
		}
		out = append(out, mediaplan.ChannelAllocation{
			Channel:   item.channel.Name,
			Type:      item.channel.Type,
			Percent:   percents[i],
			Amount:    math.Round(monthly*float64(percents[i])) / 100,
			Rationale: rationale(category, i+1, item, lowBudget, e.policy.LowBudgetChannelCount),
		})
	}
	return out, nil
}

// Classify returns the industry category that drives the candidate set.
func (e Engine) Classify(industry string) string {
	category, _ := e.candidates(industry)
	return category
}

func (e Engine) candidates(industry string) (string, []policy.Channel) {
	if match, ok := e.policy.ClassifyIndustry(industry); ok {
		return match.Name, match.Channels
	}
	return "general", e.policy.DefaultChannels
}

func (e Engine) score(channels []policy.Channel, preferences []string) []scoredChannel {
	boostedTypes := map[string]string{}
	var freeText []string
	for _, pref := range preferences {
		if tag, ok := e.policy.FocusTag(pref); ok {
			for _, channelType := range tag.ChannelTypes {
				if _, seen := boostedTypes[channelType]; !seen {
					boostedTypes[channelType] = tag.Tag
				}
			}
			continue
		}
		freeText = append(freeText, policy.Normalize(pref))
		for _, tagName := range e.policy.DetectFocusTags(pref) {
			tag, _ := e.policy.FocusTag(tagName)
			for _, channelType := range tag.ChannelTypes {
				if _, seen := boostedTypes[channelType]; !seen {
					boostedTypes[channelType] = tag.Tag
				}
			}
		}
	}

	ranked := make([]scoredChannel, 0, len(channels))
	for i, channel := range channels {
		item := scoredChannel{channel: channel, index: i, score: channel.Weight}
		if tag, ok := boostedTypes[channel.Type]; ok {
			item.boosts = append(item.boosts, tag)
		}
		for _, text := range freeText {
			if policy.ContainsAny(text, append([]string{channel.Name}, channel.Keywords...)) {
				item.boosts = append(item.boosts, channel.Name)
				break
			}
		}
		if len(item.boosts) > 0 {
			item.score = channel.Weight * (1 + e.policy.PreferenceBoost)
		}
		ranked = append(ranked, item)
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].index < ranked[b].index
	})
	return ranked
}

// largestRemainder turns scores into integer percentages summing to 100.
// Leftover points go to the largest fractional parts, ties by rank.
func largestRemainder(ranked []scoredChannel) []int {
	out := make([]int, len(ranked))
	if len(ranked) == 0 {
		return out
	}

	total := 0.0
	for _, item := range ranked {
		total += item.score
	}

	type remainder struct {
		rank int
		frac float64
	}
	remainders := make([]remainder, len(ranked))
	assigned := 0
	for i, item := range ranked {
		exact := item.score * 100 / total
		floor := int(math.Floor(exact))
		out[i] = floor
		assigned += floor
		remainders[i] = remainder{rank: i, frac: exact - float64(floor)}
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		if remainders[a].frac != remainders[b].frac {
			return remainders[a].frac > remainders[b].frac
		}
		return remainders[a].rank < remainders[b].rank
	})
	for i := 0; assigned < 100; i++ {
		out[remainders[i%len(remainders)].rank]++
		assigned++
	}
	return out
}

func rationale(category string, rank int, item scoredChannel, lowBudget bool, keep int) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("ranked #%d for %s (base weight %g)", rank, category, item.channel.Weight))
	if len(item.boosts) > 0 {
		parts = append(parts, fmt.Sprintf("boosted for preference %q", item.boosts[0]))
	}
	if lowBudget {
		parts = append(parts, fmt.Sprintf("budget below the low-spend threshold, concentrated on the top %d channels", keep))
	}
	return strings.Join(parts, "; ")
}
