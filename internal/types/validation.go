package types

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateWebhookURL performs syntactic validation of a user-configured
// webhook destination. In production only HTTPS is accepted; non-production
// environments also allow plain HTTP for local testing. The IP-level SSRF
// check happens at delivery time via internal/security, not here.
func ValidateWebhookURL(urlStr string, production bool) error {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return fmt.Errorf("%s: webhook URL is empty", ErrCodeConfigMissingDestination)
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%s: invalid URL", ErrCodeConfigInvalidDestination)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if production {
			return fmt.Errorf("%s: must use HTTPS", ErrCodeConfigInvalidDestination)
		}
	default:
		return fmt.Errorf("%s: unsupported scheme %q", ErrCodeConfigInvalidDestination, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s: missing host", ErrCodeConfigInvalidDestination)
	}
	return nil
}

// SSRFBlockedCIDRs defines the IP ranges that MUST be blocked for SSRF
// protection when delivering webhooks in production.
var SSRFBlockedCIDRs = []string{
	"127.0.0.0/8",    // Localhost
	"10.0.0.0/8",     // Private Class A
	"172.16.0.0/12",  // Private Class B
	"192.168.0.0/16", // Private Class C
	"169.254.0.0/16", // Link-local (AWS Metadata!)
	"0.0.0.0/8",      // Current network
	"224.0.0.0/4",    // Multicast
	"240.0.0.0/4",    // Reserved
	"100.64.0.0/10",  // Shared Address Space (CGN)
	"198.18.0.0/15",  // Benchmark testing
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
}
