package wsdto

type JoinRequest struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
}

type LeaveRequest struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
}

type TypingRequest struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
	IsTyping bool   `json:"isTyping"`
}

type SendMessageRequest struct {
	ThreadID     string         `json:"threadId" validate:"required,max=64"`
	Body         string         `json:"body" validate:"max=10000"`
	ClientTempID string         `json:"clientTempId,omitempty" validate:"max=128"`
	Type         string         `json:"type,omitempty" validate:"omitempty,oneof=text file"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ReadRequest struct {
	ThreadID  string `json:"threadId" validate:"required,max=64"`
	MessageID string `json:"messageId" validate:"required,max=64"`
}
