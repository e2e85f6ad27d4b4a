// Package redact masks personal data and credentials in conversation text
// before it reaches logs or event sinks.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var enabled atomic.Bool

type rule struct {
	re   *regexp.Regexp
	mask string
}

// Order matters: card digits would otherwise match the phone rule.
var rules = []rule{
	{regexp.MustCompile(`\b(?:sk|dg|el)[-_][A-Za-z0-9_\-]{16,}\b`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{16,}`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`), "[REDACTED_PHONE]"},
}

func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks keys, emails, card numbers and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	for _, r := range rules {
		in = r.re.ReplaceAllString(in, r.mask)
	}
	return in
}

// Fields returns a copy of in with every string value passed through Text.
func Fields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			v = Text(s)
		}
		out[k] = v
	}
	return out
}

// Preview redacts in and cuts it to at most limit runes for a log line.
func Preview(in string, limit int) string {
	out := Text(in)
	if limit <= 0 || utf8.RuneCountInString(out) <= limit {
		return out
	}
	return string([]rune(out)[:limit]) + "…"
}
