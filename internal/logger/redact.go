package logger

import (
	"net/url"
	"regexp"
)

var sensitiveDataPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(/api/webhooks/)(\S+)`), "${1}[REDACTED]"},
	// userinfo in service URLs, e.g. telegram://token@telegram
	{regexp.MustCompile(`(?i)([a-z][a-z0-9+.\-]*://)[^\s/@\[\]]+@`), "${1}[REDACTED]@"},
}

// RedactSensitiveData masks bearer tokens, key=value secrets, webhook tokens
// and URL userinfo.
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, p := range sensitiveDataPatterns {
		input = p.re.ReplaceAllString(input, p.repl)
	}
	return input
}

// RedactURL keeps only the scheme and host of a destination URL.
// Webhook URLs carry their credentials in the path.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[REDACTED]"
	}
	return u.Scheme + "://" + u.Host + "/[REDACTED]"
}
