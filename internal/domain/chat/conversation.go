package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// Pair is the unordered participant pair of a conversation, kept sorted so
// that (a, b) and (b, a) produce the same key.
type Pair struct {
	Low  string
	High string
}

func NewPair(a, b string) (Pair, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return Pair{}, Invalidf("both participants are required")
	}
	if a == b {
		return Pair{}, Invalidf("participants must be distinct")
	}
	if b < a {
		a, b = b, a
	}
	return Pair{Low: a, High: b}, nil
}

// Key is the storage form of the pair used in the uniqueness constraint.
func (p Pair) Key() string {
	return p.Low + "|" + p.High
}

func (p Pair) Contains(userID string) bool {
	return userID != "" && (p.Low == userID || p.High == userID)
}

type Conversation struct {
	ID             ConversationID
	ListingID      string
	Participants   []string
	ParticipantKey string
	Active         bool
	CreatedAt      time.Time

	LastMessageID       MessageID
	LastMessageSenderID string
	LastMessagePreview  string
	LastMessageAt       time.Time
}

// NewConversation builds the draft inserted by find-or-create. Participants
// keep the order of the first exchange: initiator first.
func NewConversation(listingID, initiator, counterpart string, now time.Time) (Conversation, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Conversation{}, Invalidf("listing id is required")
	}
	pair, err := NewPair(initiator, counterpart)
	if err != nil {
		return Conversation{}, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	return Conversation{
		ID:             ConversationID(NewID()),
		ListingID:      listingID,
		Participants:   []string{strings.TrimSpace(initiator), strings.TrimSpace(counterpart)},
		ParticipantKey: pair.Key(),
		Active:         true,
		CreatedAt:      now.UTC(),
	}, nil
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID, or "" if userID is not a member.
func (c Conversation) Other(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (c Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// Clone returns a copy that does not share the participants slice.
func (c Conversation) Clone() Conversation {
	c.Participants = append([]string(nil), c.Participants...)
	return c
}

// NewID returns a time-ordered UUIDv7 string. Lexicographic order of the
// returned strings follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
