package session

import (
	"strings"
	"unicode/utf8"

	"github.com/chatpad-app/chatpad/backend/internal/model/chat"
)

const maxNameLen = 48

// deriveName titles a new session after the first human message. Naming
// happens exactly once, right before the store's create call.
func deriveName(messages []chat.Message) string {
	for _, msg := range messages {
		if msg.Role == chat.RoleHuman {
			if name := truncateName(msg.Content); name != "" {
				return name
			}
		}
	}
	return "New chat"
}

// truncateName collapses whitespace and cuts at maxNameLen runes, preferring
// a word boundary when one falls in the second half of the budget.
func truncateName(content string) string {
	name := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(name) <= maxNameLen {
		return name
	}

	runes := []rune(name)
	cut := string(runes[:maxNameLen])
	if idx := strings.LastIndex(cut, " "); idx > maxNameLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
