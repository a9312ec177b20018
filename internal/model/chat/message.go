package chat

import "time"

// Role tags who authored a transcript entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Apology replaces the bot reply when the model call fails.
const Apology = "Sorry, I ran into an error. Please try again."

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Exchange pairs the user entry with the bot entry appended for it.
type Exchange struct {
	User   Message `json:"user"`
	Bot    Message `json:"bot"`
	Failed bool    `json:"failed"`
}
