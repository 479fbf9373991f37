package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, 3, p.RetryThreshold)
	assert.Equal(t, 4, p.NonProgressThreshold)
	assert.Equal(t, 20*time.Second, p.AnalysisTimeout)
	assert.Equal(t, "USD", p.DefaultCurrency)
	assert.Len(t, p.DefaultChannels, 4)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retryThreshold: 5\nanalysisTimeout: 3s\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, p.RetryThreshold)
	assert.Equal(t, 3*time.Second, p.AnalysisTimeout)
	assert.Equal(t, 4, p.NonProgressThreshold)
	assert.NotEmpty(t, p.Industries)
}

func TestLoadRejectsInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retryThreshold: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retryThreshold")
}

func TestValidateRejectsUnknownChannelType(t *testing.T) {
	p := Default()
	p.DefaultChannels = []Channel{{Name: "Billboards", Type: "outdoor", Weight: 10}}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestClassifyIndustry(t *testing.T) {
	p := Default()

	cases := map[string]string{
		"food/retail":          "food & beverage",
		"E-commerce fashion":   "retail",
		"B2B SaaS":             "software & technology",
		"Dental clinic":        "healthcare & wellness",
		"Residential property": "real estate",
	}
	for input, want := range cases {
		got, ok := p.ClassifyIndustry(input)
		require.True(t, ok, input)
		assert.Equal(t, want, got.Name, input)
	}

	_, ok := p.ClassifyIndustry("underwater basket weaving")
	assert.False(t, ok)
}

func TestDetectFocusTagsUsesWholeWords(t *testing.T) {
	p := Default()
	assert.Equal(t, []string{"social media"}, p.DetectFocusTags("I'd like to focus on Instagram"))
	assert.Equal(t, []string{"local"}, p.DetectFocusTags("highlight local sourcing"))
	assert.Empty(t, p.DetectFocusTags("we did market research"))
}

func TestLowSpendThresholdFallsBackToDefaultCurrency(t *testing.T) {
	p := Default()
	assert.Equal(t, 50000.0, p.LowSpendThreshold("inr"))
	assert.Equal(t, 1000.0, p.LowSpendThreshold("CHF"))
}

func TestFormatsFallBackToDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, []string{"Image carousel", "Short-form video", "Story ad"}, p.Formats("social"))
	assert.Equal(t, p.CreativeFormats[DefaultFormatKey], p.Formats("unknown"))
}
