package models

import "time"

// TranscriptEntry is one per-message row of the chat log.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	PathUsed  string    `json:"pathUsed"`
}

// ChatPair is one user message and the reply it received, logged as a single row.
type ChatPair struct {
	PlayerName   string    `json:"playerName"`
	UserMessage  string    `json:"userMessage"`
	UserSentAt   time.Time `json:"userSentAt"`
	BotReply     string    `json:"botReply"`
	BotRepliedAt time.Time `json:"botRepliedAt"`
}

// Exchange groups everything logged for one completed submit.
type Exchange struct {
	ID         string
	SessionKey string
	Entries    []TranscriptEntry
	Pair       *ChatPair
}
