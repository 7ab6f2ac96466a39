package lineup

import (
	"regexp"
	"strings"
)

// Mention is one artist reference pulled from an event's detail page.
type Mention struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	ProfileURL string `json:"profile_url"`
	Role       string `json:"role,omitempty"`
}

var (
	collabSplit    = regexp.MustCompile(`(?i)\s+b2b\s+|\s*&\s*`)
	modeSuffix     = regexp.MustCompile(`(?i)\s+(?:live|dj)(?:\s+set)?$`)
	parenthesized  = regexp.MustCompile(`\(([^)]*)\)`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// ExtractMentions splits free-text billing into candidate artist names. Each
// line contributes the text before its first parenthesis; collaboration
// billings ("A B2B B", "A & B") become separate names; trailing performance
// modes ("Live", "DJ set") are dropped. Order is preserved and exact
// duplicates are removed.
func ExtractMentions(text string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		candidate := line
		if i := strings.Index(candidate, "("); i >= 0 {
			candidate = candidate[:i]
		}
		for _, part := range collabSplit.Split(candidate, -1) {
			name := cleanName(part)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// cleanName collapses whitespace and strips a trailing performance mode.
func cleanName(s string) string {
	s = strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
	for {
		stripped := modeSuffix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = strings.TrimSpace(stripped)
	}
	return strings.Trim(s, " -–,;:")
}

// roleFrom returns the content of the first parenthesized group in text.
func roleFrom(text string) string {
	m := parenthesized.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(m[1], " "))
}

// nameFrom returns the text before the first parenthesis, whitespace-collapsed.
func nameFrom(text string) string {
	if i := strings.Index(text, "("); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(text, " "))
}
