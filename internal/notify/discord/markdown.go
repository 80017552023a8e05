package discord

import "strings"

// EscapeMarkdown escapes Discord's markdown control characters so free-form
// generation text renders literally. Applied to every text and caption before
// sending, mirroring the Telegram channel's escaping rule.
func EscapeMarkdown(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) * 2)
	for _, r := range text {
		switch r {
		case '\\', '*', '_', '~', '`', '|', '>', '#', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
