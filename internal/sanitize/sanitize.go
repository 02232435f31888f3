package sanitize

import (
	"net/url"
	"regexp"
	"strings"
)

type SecretPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// SecretPatterns is a list of compiled regular expressions and their corresponding replacements for detecting secrets.
var SecretPatterns = []SecretPattern{
	{
		// Redact value in 'Authorization: Bearer <token>' or 'Authorization: token <token>'
		Pattern:     regexp.MustCompile(`(?i)(Authorization:\s*(?:Bearer|token)\s+)\S+`),
		Replacement: `${1}[REDACTED]`,
	},
	{
		// Redact common key formats like 'api-key: value' or 'password = "value"'
		Pattern:     regexp.MustCompile(`(?i)((?:api-key|token|secret|password|key)(?:[\s=:]*['"]?))([a-zA-Z0-9_.-]{20,})(['"]?)`),
		Replacement: `${1}[REDACTED]${3}`,
	},
	{
		// classic, oauth, user-to-server, server-to-server and refresh tokens
		Pattern:     regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36,}`),
		Replacement: "[REDACTED]",
	},
	{
		Pattern:     regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),
		Replacement: "[REDACTED]",
	},
	{
		// Redact JWTs
		Pattern:     regexp.MustCompile(`ey[J-Za-z0-9-_=]+\.[J-Za-z0-9-_=]+\.[J-Za-z0-9-_.+/=]*`),
		Replacement: "[REDACTED]",
	},
	{
		// pre-signed download URLs carry their credential in the query
		Pattern:     regexp.MustCompile(`(?i)([?&](?:sig|signature|x-amz-signature|x-amz-credential|token)=)[^&\s"]+`),
		Replacement: `${1}[REDACTED]`,
	},
}

// String removes credentials from a log line or error message.
func String(s string) string {
	for _, field := range strings.Fields(s) {
		if u, err := url.Parse(field); err == nil && u.User != nil {
			if _, isSet := u.User.Password(); isSet {
				u.User = url.UserPassword(u.User.Username(), "[REDACTED]")
				s = strings.ReplaceAll(s, field, u.String())
			}
		}
	}
	for _, p := range SecretPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}
