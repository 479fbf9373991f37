// Package policy loads the business rules that drive the conversation:
// retry and loop thresholds, the industry channel table, preference
// vocabulary and the creative format catalog.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

const DefaultFormatKey = "default"

type Channel struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords,omitempty"`
}

type Industry struct {
	Name     string    `yaml:"name"`
	Keywords []string  `yaml:"keywords"`
	Channels []Channel `yaml:"channels"`
}

type FocusTag struct {
	Tag          string   `yaml:"tag"`
	Keywords     []string `yaml:"keywords"`
	ChannelTypes []string `yaml:"channelTypes,omitempty"`
}

type Policy struct {
	RetryThreshold        int                 `yaml:"retryThreshold"`
	NonProgressThreshold  int                 `yaml:"nonProgressThreshold"`
	AnalysisTimeout       time.Duration       `yaml:"analysisTimeout"`
	DefaultCurrency       string              `yaml:"defaultCurrency"`
	DefaultFocus          string              `yaml:"defaultFocus"`
	DefaultStartDate      string              `yaml:"defaultStartDate"`
	TimelineWeeks         int                 `yaml:"timelineWeeks"`
	PreferenceBoost       float64             `yaml:"preferenceBoost"`
	LowBudgetChannelCount int                 `yaml:"lowBudgetChannelCount"`
	LowSpendThresholds    map[string]float64  `yaml:"lowSpendThresholds"`
	FocusTags             []FocusTag          `yaml:"focusTags"`
	Industries            []Industry          `yaml:"industries"`
	DefaultChannels       []Channel           `yaml:"defaultChannels"`
	CreativeFormats       map[string][]string `yaml:"creativeFormats"`
}

// Default returns the embedded policy. It panics only if the embedded file is
// broken, which the package tests rule out.
func Default() Policy {
	p, err := Parse(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded policy: %v", err))
	}
	return p
}

// Load returns the embedded policy, overlaid with the YAML file at path when
// path is non-empty. Keys absent from the file keep their defaults.
func Load(path string) (Policy, error) {
	p := Default()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return p, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func Parse(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	var errs []error
	if p.RetryThreshold <= 0 {
		errs = append(errs, errors.New("retryThreshold must be positive"))
	}
	if p.NonProgressThreshold <= 0 {
		errs = append(errs, errors.New("nonProgressThreshold must be positive"))
	}
	if p.AnalysisTimeout <= 0 {
		errs = append(errs, errors.New("analysisTimeout must be positive"))
	}
	if len(strings.TrimSpace(p.DefaultCurrency)) != 3 {
		errs = append(errs, fmt.Errorf("defaultCurrency %q is not an ISO code", p.DefaultCurrency))
	}
	if p.TimelineWeeks <= 0 {
		errs = append(errs, errors.New("timelineWeeks must be positive"))
	}
	if p.PreferenceBoost < 0 {
		errs = append(errs, errors.New("preferenceBoost must not be negative"))
	}
	if p.LowBudgetChannelCount <= 0 {
		errs = append(errs, errors.New("lowBudgetChannelCount must be positive"))
	}
	if len(p.DefaultChannels) == 0 {
		errs = append(errs, errors.New("defaultChannels must not be empty"))
	}
	if _, ok := p.CreativeFormats[DefaultFormatKey]; !ok {
		errs = append(errs, errors.New("creativeFormats needs a default entry"))
	}
	errs = append(errs, p.validateChannels("defaultChannels", p.DefaultChannels)...)
	for _, industry := range p.Industries {
		if strings.TrimSpace(industry.Name) == "" {
			errs = append(errs, errors.New("industry name is required"))
			continue
		}
		if len(industry.Channels) == 0 {
			errs = append(errs, fmt.Errorf("industry %q has no channels", industry.Name))
		}
		errs = append(errs, p.validateChannels(industry.Name, industry.Channels)...)
	}
	return errors.Join(errs...)
}

func (p Policy) validateChannels(owner string, channels []Channel) []error {
	var errs []error
	seen := make(map[string]struct{}, len(channels))
	for _, channel := range channels {
		if strings.TrimSpace(channel.Name) == "" {
			errs = append(errs, fmt.Errorf("%s: channel name is required", owner))
			continue
		}
		if _, dup := seen[channel.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate channel %q", owner, channel.Name))
		}
		seen[channel.Name] = struct{}{}
		if channel.Weight <= 0 {
			errs = append(errs, fmt.Errorf("%s: channel %q needs a positive weight", owner, channel.Name))
		}
		if _, ok := p.CreativeFormats[channel.Type]; !ok {
			errs = append(errs, fmt.Errorf("%s: channel %q has unknown type %q", owner, channel.Name, channel.Type))
		}
	}
	return errs
}

// ClassifyIndustry maps free-text industry onto the first table entry whose
// keywords appear in it.
func (p Policy) ClassifyIndustry(industry string) (Industry, bool) {
	normalized := Normalize(industry)
	if normalized == "" {
		return Industry{}, false
	}
	for _, candidate := range p.Industries {
		if strings.EqualFold(strings.TrimSpace(candidate.Name), strings.TrimSpace(industry)) {
			return candidate, true
		}
		if ContainsAny(normalized, candidate.Keywords) {
			return candidate, true
		}
	}
	return Industry{}, false
}

// DetectFocusTags returns the tags whose keywords appear in text, in
// vocabulary order.
func (p Policy) DetectFocusTags(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	var tags []string
	for _, tag := range p.FocusTags {
		if ContainsAny(normalized, append([]string{tag.Tag}, tag.Keywords...)) {
			tags = append(tags, tag.Tag)
		}
	}
	return tags
}

func (p Policy) FocusTag(tag string) (FocusTag, bool) {
	for _, candidate := range p.FocusTags {
		if strings.EqualFold(candidate.Tag, strings.TrimSpace(tag)) {
			return candidate, true
		}
	}
	return FocusTag{}, false
}

// LowSpendThreshold returns the monthly threshold for currency, falling back
// to the default currency's threshold.
func (p Policy) LowSpendThreshold(currency string) float64 {
	if value, ok := p.LowSpendThresholds[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return value
	}
	return p.LowSpendThresholds[strings.ToUpper(p.DefaultCurrency)]
}

func (p Policy) Formats(channelType string) []string {
	if formats, ok := p.CreativeFormats[channelType]; ok && len(formats) > 0 {
		return formats
	}
	return p.CreativeFormats[DefaultFormatKey]
}

func (p Policy) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}

// Normalize lowercases text and collapses every run of non-alphanumeric
// characters to a single space, padded at both ends for whole-word matching.
func Normalize(text string) string {
	var builder strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			builder.WriteByte(' ')
			lastSpace = true
		}
	}
	trimmed := strings.TrimSpace(builder.String())
	if trimmed == "" {
		return ""
	}
	return " " + trimmed + " "
}

// ContainsAny reports whether any keyword occurs as whole words in a string
// already passed through Normalize.
func ContainsAny(normalized string, keywords []string) bool {
	for _, keyword := range keywords {
		needle := Normalize(keyword)
		if needle == "" {
			continue
		}
		if strings.Contains(normalized, needle) {
			return true
		}
	}
	return false
}
