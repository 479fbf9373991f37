package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

type blockReason string

const (
	blockedScheme  blockReason = "scheme"
	blockedHost    blockReason = "host"
	blockedPort    blockReason = "port"
	blockedAddress blockReason = "address"
)

// SiteBlockedError means the analyzer refused to contact a website. It is
// never retried: the user has to supply a different address.
type SiteBlockedError struct {
	Host   string
	Reason blockReason
}

func (e *SiteBlockedError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("site blocked: bad %s", e.Reason)
	}
	return fmt.Sprintf("site %q blocked: bad %s", e.Host, e.Reason)
}

func isSiteBlocked(err error) bool {
	var blocked *SiteBlockedError
	return errors.As(err, &blocked)
}

var blockedHostSuffixes = []string{".localhost", ".local", ".internal", ".lan", ".home.arpa"}

// Ranges the netip predicates do not cover but no business website lives in.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// checkSiteURL accepts a public http(s) website on the default port.
func checkSiteURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &SiteBlockedError{Host: parsed.Host, Reason: blockedScheme}
	}
	hostname := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if hostname == "" {
		return nil, errors.New("website host is required")
	}
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		return nil, &SiteBlockedError{Host: hostname, Reason: blockedPort}
	}
	if blockedHostname(hostname) {
		return nil, &SiteBlockedError{Host: hostname, Reason: blockedHost}
	}
	return parsed, nil
}

func blockedHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(hostname, suffix) {
			return true
		}
	}
	if addr, err := netip.ParseAddr(hostname); err == nil {
		return !publicAddr(addr)
	}
	// Single-label names only resolve on a local network.
	return !strings.Contains(hostname, ".")
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || !addr.IsGlobalUnicast() || addr.IsPrivate() {
		return false
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return false
		}
	}
	return true
}

// guardedDialer resolves the host itself and dials only public addresses, so
// a public name cannot be pointed at an internal one after checkSiteURL.
func guardedDialer(base *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	if base == nil {
		base = &net.Dialer{}
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		if blockedHostname(strings.ToLower(host)) {
			return nil, &SiteBlockedError{Host: host, Reason: blockedHost}
		}

		addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
		var lastErr error = &SiteBlockedError{Host: host, Reason: blockedAddress}
		for _, addr := range addrs {
			if !publicAddr(addr) {
				return nil, &SiteBlockedError{Host: host, Reason: blockedAddress}
			}
		}
		for _, addr := range addrs {
			conn, dialErr := base.DialContext(ctx, network, net.JoinHostPort(addr.Unmap().String(), port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}
		return nil, lastErr
	}
}
