package telegram

import "strings"

// EscapeMarkdownV2 escapes every character MarkdownV2 treats as syntax.
// Telegram rejects the whole message when a single reserved character is
// left unescaped, so all user-influenced text goes through this before
// being placed in a message or caption.
func EscapeMarkdownV2(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) * 2)
	for _, r := range text {
		switch r {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
