package chat

import (
	"strings"
	"time"
)

// Session is the public view of a credential-scoped conversation.
type Session struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	KeyHint      string    `json:"keyHint"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// MaskKey keeps the first and last four runes of a credential so the page can
// show which key is active without echoing it back.
func MaskKey(key string) string {
	runes := []rune(strings.TrimSpace(key))
	if len(runes) <= 8 {
		return strings.Repeat("•", len(runes))
	}
	return string(runes[:4]) + "…" + string(runes[len(runes)-4:])
}
