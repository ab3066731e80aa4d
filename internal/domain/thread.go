package domain

import (
	"time"
)

// Principal is the verified identity bound to a connection at handshake.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type Thread struct {
	ID         string     `json:"id"`
	Type       ThreadType `json:"type"`
	ProjectID  *string    `json:"projectId,omitempty"`
	ContractID *string    `json:"contractId,omitempty"`
	JobOfferID *string    `json:"jobOfferId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type Profile struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type Participant struct {
	ThreadID          string     `json:"threadId"`
	UserID            string     `json:"userId"`
	Role              string     `json:"role"`
	LastReadMessageID *string    `json:"lastReadMessageId,omitempty"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty"`
	JoinedAt          time.Time  `json:"joinedAt"`
	Profile           Profile    `json:"profile"`
}

// ThreadSnapshot is the cached projection of a thread and its participants.
type ThreadSnapshot struct {
	Thread       Thread        `json:"thread"`
	Participants []Participant `json:"participants"`
}

// Participant returns the participant entry for userID, if present.
func (s *ThreadSnapshot) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantIDs returns the user ids in snapshot order.
func (s *ThreadSnapshot) ParticipantIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}
