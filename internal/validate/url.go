package validate

import (
	"net/url"
	"strings"

	"mediaplan/backend/internal/mediaplan"
)

// URL accepts an absolute http or https URL with a host and returns it with
// a lowercase scheme and host, no fragment and no trailing slash.
func URL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", invalid(mediaplan.FieldWebsiteURL, CodeInvalidURL, raw, "url is empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", invalid(mediaplan.FieldWebsiteURL, CodeInvalidURL, raw, "url does not parse")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", invalid(mediaplan.FieldWebsiteURL, CodeInvalidURL, raw, "scheme must be http or https")
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", invalid(mediaplan.FieldWebsiteURL, CodeInvalidURL, raw, "host is required")
	}
	if !validHostname(host) {
		return "", invalid(mediaplan.FieldWebsiteURL, CodeInvalidURL, raw, "host is malformed")
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = strings.TrimRight(parsed.RawPath, "/")
	if parsed.RawQuery == "" {
		parsed.ForceQuery = false
	}
	return parsed.String(), nil
}

func validHostname(host string) bool {
	if strings.HasPrefix(host, "[") || strings.Contains(host, ":") {
		// IPv6 literal, already checked by url.Parse.
		return true
	}
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}
