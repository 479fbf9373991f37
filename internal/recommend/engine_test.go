package recommend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/policy"
)

func monthly(amount float64, currency string) *mediaplan.Budget {
	return &mediaplan.Budget{Amount: amount, Currency: currency, Period: mediaplan.PeriodMonthly}
}

func names(channels []mediaplan.ChannelAllocation) []string {
	out := make([]string, 0, len(channels))
	for _, channel := range channels {
		out = append(out, channel.Channel)
	}
	return out
}

func percents(channels []mediaplan.ChannelAllocation) []int {
	out := make([]int, 0, len(channels))
	for _, channel := range channels {
		out = append(out, channel.Percent)
	}
	return out
}

func TestRecommendUsesIndustryWeights(t *testing.T) {
	engine := NewEngine(policy.Default())

	got, err := engine.Recommend("food/retail", monthly(2000, "USD"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Local Search", "Social Ads", "Search Ads", "Delivery Marketplace Listings", "Email Marketing"}, names(got))
	assert.Equal(t, []int{30, 28, 20, 12, 10}, percents(got))
	assert.InDelta(t, 600, got[0].Amount, 0.001)
	assert.Contains(t, got[0].Rationale, "food & beverage")
}

func TestRecommendBoostsPreferredChannelTypes(t *testing.T) {
	engine := NewEngine(policy.Default())

	got, err := engine.Recommend("bakery", monthly(2000, "USD"), []string{"social media"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Social Ads", "Local Search", "Search Ads", "Delivery Marketplace Listings", "Email Marketing"}, names(got))
	assert.Equal(t, []int{37, 26, 18, 10, 9}, percents(got))
	assert.Contains(t, got[0].Rationale, `boosted for preference "social media"`)
}

func TestRecommendDetectsTagsInFreeTextPreferences(t *testing.T) {
	engine := NewEngine(policy.Default())

	got, err := engine.Recommend("Software", monthly(5000, "USD"), []string{"we sell mostly through linkedin outreach"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "LinkedIn Ads", got[0].Channel)
}

func TestRecommendLowBudgetKeepsTopTwo(t *testing.T) {
	engine := NewEngine(policy.Default())

	got, err := engine.Recommend("bakery", monthly(500, "USD"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Local Search", "Social Ads"}, names(got))
	assert.Equal(t, []int{52, 48}, percents(got))
	assert.Contains(t, got[1].Rationale, "low-spend threshold")

	got, err = engine.Recommend("bakery", monthly(500, "USD"), []string{"social media"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Social Ads", "Local Search"}, names(got))
	assert.Equal(t, []int{58, 42}, percents(got))
}

func TestRecommendNormalisesYearlyBudgetsBeforeTiering(t *testing.T) {
	engine := NewEngine(policy.Default())

	budget := &mediaplan.Budget{Amount: 500000, Currency: "INR", Period: mediaplan.PeriodYearly}
	got, err := engine.Recommend("restaurant", budget, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.InDelta(t, 500000.0/12*0.52, got[0].Amount, 0.01)
}

func TestRecommendFallsBackToDefaultChannels(t *testing.T) {
	engine := NewEngine(policy.Default())

	got, err := engine.Recommend("artisanal candles", monthly(3000, "USD"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Social Media Marketing", "Search Engine Marketing", "Content Marketing", "Email Marketing"}, names(got))
	assert.Equal(t, []int{30, 30, 20, 20}, percents(got))
	assert.Equal(t, "general", engine.Classify("artisanal candles"))
}

func TestRecommendBreaksRemainderTiesByRank(t *testing.T) {
	p := policy.Default()
	p.DefaultChannels = []policy.Channel{
		{Name: "First", Type: "social", Weight: 10},
		{Name: "Second", Type: "search", Weight: 10},
		{Name: "Third", Type: "email", Weight: 10},
	}
	engine := NewEngine(p)

	got, err := engine.Recommend("artisanal candles", monthly(3000, "USD"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second", "Third"}, names(got))
	assert.Equal(t, []int{34, 33, 33}, percents(got))
}

func TestRecommendAlwaysSumsToHundredWithinCandidates(t *testing.T) {
	p := policy.Default()
	engine := NewEngine(p)

	industries := []string{"bakery", "fashion boutique", "law firm", "saas", "dental clinic", "tutoring", "realtor", "hotel", "pottery"}
	budgets := []*mediaplan.Budget{
		monthly(150, "USD"),
		monthly(999.99, "USD"),
		monthly(12345, "EUR"),
		{Amount: 20000000, Currency: "INR", Period: mediaplan.PeriodYearly},
		{Amount: 70, Currency: "GBP", Period: mediaplan.PeriodDaily},
	}
	prefs := [][]string{nil, {"social media"}, {"search ads", "email"}, {"video", "local", "content"}, {"balanced"}}

	for _, industry := range industries {
		allowed := map[string]bool{}
		candidates := p.DefaultChannels
		if match, ok := p.ClassifyIndustry(industry); ok {
			candidates = match.Channels
		}
		for _, channel := range candidates {
			allowed[channel.Name] = true
		}

		for _, budget := range budgets {
			for _, pref := range prefs {
				got, err := engine.Recommend(industry, budget, pref)
				require.NoError(t, err)
				require.NotEmpty(t, got)

				sum := 0
				for _, channel := range got {
					sum += channel.Percent
					assert.True(t, allowed[channel.Channel], "%s: unexpected channel %s", industry, channel.Channel)
					assert.Positive(t, channel.Percent)
				}
				assert.Equal(t, 100, sum, "%s %v %v", industry, budget, pref)
			}
		}
	}
}

func TestRecommendIsDeterministic(t *testing.T) {
	engine := NewEngine(policy.Default())
	first, err := engine.Recommend("coffee shop", monthly(4200, "USD"), []string{"video", "local"})
	require.NoError(t, err)
	for range 5 {
		again, err := engine.Recommend("coffee shop", monthly(4200, "USD"), []string{"video", "local"})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRecommendRejectsMissingPrerequisites(t *testing.T) {
	engine := NewEngine(policy.Default())

	_, err := engine.Recommend("", monthly(2000, "USD"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingPrerequisite))
	assert.True(t, mediaplan.IsContractViolation(err))

	_, err = engine.Recommend("bakery", nil, nil)
	var violation *mediaplan.ContractViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, []mediaplan.Field{mediaplan.FieldBudget}, violation.Missing)

	_, err = engine.Recommend("bakery", monthly(0, "USD"), nil)
	assert.True(t, errors.Is(err, ErrMissingPrerequisite))
}
