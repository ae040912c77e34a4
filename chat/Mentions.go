package chat

import "strings"

// ParseMentions extracts "@name" tokens from content, in first-seen
// order, without duplicates.
func ParseMentions(content string) []string {
	var mentions []string
	seen := make(map[string]bool)

	for _, field := range strings.Fields(content) {
		if !strings.HasPrefix(field, "@") || len(field) < 2 {
			continue
		}
		name := strings.TrimFunc(field[1:], func(r rune) bool {
			return !isMentionRune(r)
		})
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		mentions = append(mentions, name)
	}

	return mentions
}

func isMentionRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		return true
	default:
		return false
	}
}
