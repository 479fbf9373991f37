package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaplan/backend/internal/controller"
	"mediaplan/backend/internal/mediaplan"
	"mediaplan/backend/internal/threads"
)

type bakeryAnalyzer struct{}

func (bakeryAnalyzer) Analyze(context.Context, string) (mediaplan.BusinessInfo, error) {
	return mediaplan.BusinessInfo{Industry: "bakery", Audience: "local families"}, nil
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--policy="}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRecommendCommand(t *testing.T) {
	out, err := runRoot(t, "recommend", "--industry", "bakery", "--budget", "$2,000/month", "--pref", "social media")
	require.NoError(t, err)
	assert.Contains(t, out, "Category: food & beverage")
	assert.Contains(t, out, "USD 2,000 per month")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	var firstRow string
	for i, line := range lines {
		if strings.HasPrefix(line, "CHANNEL") && i+1 < len(lines) {
			firstRow = lines[i+1]
		}
	}
	assert.True(t, strings.HasPrefix(firstRow, "Social Ads"), "first row: %q", firstRow)
	assert.Contains(t, firstRow, "37%")
}

func TestRecommendCommandRejectsBadBudget(t *testing.T) {
	_, err := runRoot(t, "recommend", "--industry", "bakery", "--budget", "plenty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --budget")
}

func TestPolicyCommandPrintsYAML(t *testing.T) {
	out, err := runRoot(t, "policy")
	require.NoError(t, err)
	assert.Contains(t, out, "defaultCurrency: USD")
	assert.Contains(t, out, "food & beverage")
}

func TestRunChatReachesPlan(t *testing.T) {
	store := threads.NewMemoryStore()
	conversations, err := controller.New(controller.Options{Store: store, Analyzer: bakeryAnalyzer{}})
	require.NoError(t, err)

	script := strings.Join([]string{
		"acme-bakery.com",
		"",
		"$2,000 per month",
		"/state",
		"mostly instagram",
		"next Monday",
		"/plan",
		"/quit",
	}, "\n")
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), conversations, strings.NewReader(script), &out, 5*time.Second))

	text := out.String()
	assert.Contains(t, text, "stage: AWAITING_PREFERENCES")
	assert.Contains(t, text, "# Media Plan (revision 1)")

	active, err := store.ListActive(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, active, "/quit archives the thread")
}

func TestRunChatStopsAtEOF(t *testing.T) {
	conversations, err := controller.New(controller.Options{Store: threads.NewMemoryStore(), Analyzer: bakeryAnalyzer{}})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), conversations, strings.NewReader("/plan\n"), &out, 0))
	assert.Contains(t, out.String(), "No plan yet.")
}
