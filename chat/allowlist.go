package chat

import (
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
)

// Allowlist gates which senders may drive the bridge. Patterns are matched
// against the sender identifier with doublestar globs, so "ops-*" or "*"
// work as expected. An empty allowlist admits everyone.
type Allowlist []string

// Allowed reports whether sender matches any pattern. Invalid patterns are
// logged and skipped rather than failing open.
func (a Allowlist) Allowed(sender string) bool {
	if len(a) == 0 {
		return true
	}
	for _, pattern := range a {
		ok, err := doublestar.Match(pattern, sender)
		if err != nil {
			slog.Warn("invalid allowlist pattern", "pattern", pattern, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
