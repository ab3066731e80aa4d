package domain

import (
	"encoding/json"
	"time"
)

type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	SenderID  *string        `json:"senderId"`
	Body      string         `json:"body"`
	Type      MessageType    `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Receipt struct {
	MessageID   string     `json:"messageId"`
	UserID      string     `json:"userId"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

// NewMessage is the input of the atomic create step.
type NewMessage struct {
	ID       string
	ThreadID string
	SenderID string
	Body     string
	Type     MessageType
	Metadata map[string]any
	At       time.Time
}

// Envelope is one entry of a principal's offline queue.
type Envelope struct {
	Seq           int64           `json:"seq"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	ParticipantID string          `json:"participantId"`
	MessageID     string          `json:"messageId,omitempty"`
	ThreadID      string          `json:"threadId,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
}

// ThreadCreated is published by business workflows when a conversation is opened.
type ThreadCreated struct {
	Thread       Thread        `json:"thread"`
	Participants []Participant `json:"participants"`
}
