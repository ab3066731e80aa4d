package domain

type ThreadType string

const (
	ThreadTypeProject         ThreadType = "project"
	ThreadTypeAdminClient     ThreadType = "admin_client"
	ThreadTypeAdminFreelancer ThreadType = "admin_freelancer"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
	MessageTypeFile   MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeSystem, MessageTypeFile:
		return true
	}
	return false
}

// Client-facing push event names.
const (
	EventPresence      = "chat:presence"
	EventPresenceSync  = "chat:presence-sync"
	EventMessage       = "chat:message"
	EventThreadUnread  = "chat:thread-unread"
	EventRead          = "chat:read"
	EventThreadCreated = "chat:thread-created"
	EventTyping        = "chat:typing"
)

// Client request event names.
const (
	EventJoin        = "chat:join"
	EventLeave       = "chat:leave"
	EventTypingSet   = "chat:typing"
	EventSendMessage = "chat:send-message"
	EventMarkRead    = "chat:read"
)
