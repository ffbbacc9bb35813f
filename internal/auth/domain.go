// File: internal/auth/domain.go
package auth

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ExtractDomain reduces a service URL to its bare host. The scheme is
// optional: "github.com" and "https://app.example.com/path?q=1" both resolve
// to their registrable host. Ports are stripped.
func ExtractDomain(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("empty service URL")
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("unparsable service URL %q: %w", rawURL, err)
	}

	host := u.Host
	if host == "" {
		return "", fmt.Errorf("service URL %q has no host", rawURL)
	}
	if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		host = h
	}

	host = strings.ToLower(host)
	if host == "" {
		return "", fmt.Errorf("service URL %q has no host", rawURL)
	}
	return host, nil
}

// normalizeURL returns rawURL with an https scheme prepended when the input
// carried none, so browser navigation always gets an absolute URL.
func normalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if !strings.Contains(trimmed, "://") {
		return "https://" + trimmed
	}
	return trimmed
}
