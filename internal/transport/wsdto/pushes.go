package wsdto

import (
	"time"

	"sentinal-realtime/internal/domain"
)

// chat:presence
type PresencePayload struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
}

// chat:presence-sync
type PresenceSyncPayload struct {
	ThreadID string          `json:"threadId"`
	Presence map[string]bool `json:"presence"`
}

type SenderInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// chat:message
type MessagePayload struct {
	Message      domain.Message `json:"message"`
	Sender       *SenderInfo    `json:"sender"`
	ClientTempID string         `json:"clientTempId,omitempty"`
}

// chat:thread-unread
type ThreadUnreadPayload struct {
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId"`
	SenderID  string    `json:"senderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// chat:read
type ReadPayload struct {
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// chat:typing
type TypingPayload struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// JoinResponse is the acknowledgement data of chat:join.
type JoinResponse struct {
	Thread   *domain.ThreadSnapshot `json:"thread"`
	Presence map[string]bool        `json:"presence"`
}

// SendMessageResponse is the acknowledgement data of chat:send-message.
type SendMessageResponse struct {
	Message      domain.Message `json:"message"`
	ClientTempID string         `json:"clientTempId,omitempty"`
}
