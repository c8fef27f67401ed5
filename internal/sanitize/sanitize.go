// Package sanitize cleans upstream JSON before it is cached or served.
package sanitize

import (
	"regexp"
	"strings"
)

const LinkPlaceholder = "[link redacted]"

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	whitespace       = regexp.MustCompile(`[\s\p{Zs}\x{FEFF}\x{2028}\x{2029}]+`)
	linkPattern      = regexp.MustCompile(`https?://\S+`)
	sensitiveKeyName = regexp.MustCompile(`(?i)token|cookie|session`)
)

// Sanitizer walks decoded JSON values (as produced by encoding/json into
// any). The zero value strips markup and sensitive keys only.
type Sanitizer struct {
	RedactLinks bool
}

func New(redactLinks bool) Sanitizer {
	return Sanitizer{RedactLinks: redactLinks}
}

// Sanitize never fails and never mutates its input.
func (s Sanitizer) Sanitize(value any) any {
	switch v := value.(type) {
	case string:
		return s.text(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.Sanitize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if IsSensitiveKey(key) {
				continue
			}
			out[key] = s.Sanitize(item)
		}
		return out
	default:
		return value
	}
}

func (s Sanitizer) text(v string) string {
	v = tagPattern.ReplaceAllString(v, "")
	if s.RedactLinks {
		v = linkPattern.ReplaceAllString(v, LinkPlaceholder)
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(v, " "))
}

func IsSensitiveKey(key string) bool {
	return sensitiveKeyName.MatchString(key)
}
