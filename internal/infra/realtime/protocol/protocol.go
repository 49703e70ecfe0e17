// Package protocol defines the realtime wire contract shared by the gateway
// and the client adapter. Frames are JSON envelopes whose payload is one of
// the Event variants; decoding happens once at the connection boundary.
package protocol

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"rentchat/internal/app/dto"
)

const (
	Version     = 1
	Subprotocol = "rentchat.realtime.v1"
)

type Type string

// Client to server.
const (
	TypeJoin        Type = "room.join"
	TypeLeave       Type = "room.leave"
	TypeSendMessage Type = "message.send"
	TypeTypingStart Type = "typing.start"
	TypeTypingStop  Type = "typing.stop"
	TypeMarkRead    Type = "message.mark_read"
	TypeLogout      Type = "session.logout"
)

// Server to client.
const (
	TypeJoined            Type = "room.joined"
	TypeLeft              Type = "room.left"
	TypeMessageReceived   Type = "message.received"
	TypeMessageRead       Type = "message.read"
	TypeUserTyping        Type = "typing.started"
	TypeUserStoppedTyping Type = "typing.stopped"
	TypePresence          Type = "presence"
	TypeError             Type = "error"
)

var (
	ErrMalformed      = errors.New("protocol: malformed frame")
	ErrVersion        = errors.New("protocol: unsupported version")
	ErrUnknownType    = errors.New("protocol: unknown event type")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    Type            `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is implemented only by the payload types of this package.
type Event interface {
	Type() Type
	sealed()
}

type Join struct {
	ListingID string `json:"listing_id"`
}

type Leave struct{}

// SendMessage is the live half of a dual-write send. The gateway stamps the
// sender from the authenticated connection.
type SendMessage struct {
	ListingID   string `json:"listing_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	Kind        string `json:"kind,omitempty"`
	ClientMsgID string `json:"client_msg_id"`
}

type TypingStart struct {
	ListingID   string `json:"listing_id"`
	RecipientID string `json:"recipient_id,omitempty"`
}

type TypingStop struct {
	ListingID   string `json:"listing_id"`
	RecipientID string `json:"recipient_id,omitempty"`
}

type MarkRead struct {
	MessageID string `json:"message_id"`
	ListingID string `json:"listing_id"`
	SenderID  string `json:"sender_id"`
}

type Logout struct{}

// Joined acknowledges a join with the other users currently online in the room.
type Joined struct {
	ListingID string   `json:"listing_id"`
	Online    []string `json:"online"`
}

type Left struct {
	ListingID string `json:"listing_id"`
}

// MessageReceived carries a message in its persisted shape. A message relayed
// live before the durable write completes has an empty ID and is matched to
// the stored copy by ClientMsgID.
type MessageReceived struct {
	Message dto.Message `json:"message"`
}

type MessageRead struct {
	MessageID string    `json:"message_id"`
	ListingID string    `json:"listing_id"`
	ReaderID  string    `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type UserTyping struct {
	ListingID string `json:"listing_id"`
	UserID    string `json:"user_id"`
}

type UserStoppedTyping struct {
	ListingID string `json:"listing_id"`
	UserID    string `json:"user_id"`
}

type Presence struct {
	ListingID string `json:"listing_id"`
	UserID    string `json:"user_id"`
	Online    bool   `json:"online"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Ref is the id of the envelope that caused the error, if any.
	Ref string `json:"ref,omitempty"`
}

func (Join) Type() Type              { return TypeJoin }
func (Leave) Type() Type             { return TypeLeave }
func (SendMessage) Type() Type       { return TypeSendMessage }
func (TypingStart) Type() Type       { return TypeTypingStart }
func (TypingStop) Type() Type        { return TypeTypingStop }
func (MarkRead) Type() Type          { return TypeMarkRead }
func (Logout) Type() Type            { return TypeLogout }
func (Joined) Type() Type            { return TypeJoined }
func (Left) Type() Type              { return TypeLeft }
func (MessageReceived) Type() Type   { return TypeMessageReceived }
func (MessageRead) Type() Type       { return TypeMessageRead }
func (UserTyping) Type() Type        { return TypeUserTyping }
func (UserStoppedTyping) Type() Type { return TypeUserStoppedTyping }
func (Presence) Type() Type          { return TypePresence }
func (Error) Type() Type             { return TypeError }

func (Join) sealed()              {}
func (Leave) sealed()             {}
func (SendMessage) sealed()       {}
func (TypingStart) sealed()       {}
func (TypingStop) sealed()        {}
func (MarkRead) sealed()          {}
func (Logout) sealed()            {}
func (Joined) sealed()            {}
func (Left) sealed()              {}
func (MessageReceived) sealed()   {}
func (MessageRead) sealed()       {}
func (UserTyping) sealed()        {}
func (UserStoppedTyping) sealed() {}
func (Presence) sealed()          {}
func (Error) sealed()             {}

func (e Join) validate() error {
	return required("listing_id", e.ListingID)
}

func (e SendMessage) validate() error {
	if err := required("listing_id", e.ListingID); err != nil {
		return err
	}
	if err := required("recipient_id", e.RecipientID); err != nil {
		return err
	}
	if err := required("client_msg_id", e.ClientMsgID); err != nil {
		return err
	}
	return required("content", e.Content)
}

func (e TypingStart) validate() error { return required("listing_id", e.ListingID) }
func (e TypingStop) validate() error  { return required("listing_id", e.ListingID) }

func (e MarkRead) validate() error {
	if err := required("message_id", e.MessageID); err != nil {
		return err
	}
	return required("sender_id", e.SenderID)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, field)
	}
	return nil
}

type validator interface {
	validate() error
}

func newEvent(t Type) (Event, bool) {
	switch t {
	case TypeJoin:
		return &Join{}, true
	case TypeLeave:
		return &Leave{}, true
	case TypeSendMessage:
		return &SendMessage{}, true
	case TypeTypingStart:
		return &TypingStart{}, true
	case TypeTypingStop:
		return &TypingStop{}, true
	case TypeMarkRead:
		return &MarkRead{}, true
	case TypeLogout:
		return &Logout{}, true
	case TypeJoined:
		return &Joined{}, true
	case TypeLeft:
		return &Left{}, true
	case TypeMessageReceived:
		return &MessageReceived{}, true
	case TypeMessageRead:
		return &MessageRead{}, true
	case TypeUserTyping:
		return &UserTyping{}, true
	case TypeUserStoppedTyping:
		return &UserStoppedTyping{}, true
	case TypePresence:
		return &Presence{}, true
	case TypeError:
		return &Error{}, true
	default:
		return nil, false
	}
}

// Decode parses and validates one frame. The returned Event is a value of
// one of the payload types, never a pointer.
func Decode(data []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.V != Version {
		return env, nil, fmt.Errorf("%w: %d", ErrVersion, env.V)
	}
	ptr, ok := newEvent(env.Type)
	if !ok {
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, ptr); err != nil {
			return env, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	ev := deref(ptr)
	if v, ok := ev.(validator); ok {
		if err := v.validate(); err != nil {
			return env, nil, err
		}
	}
	return env, ev, nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *Join:
		return *e
	case *Leave:
		return *e
	case *SendMessage:
		return *e
	case *TypingStart:
		return *e
	case *TypingStop:
		return *e
	case *MarkRead:
		return *e
	case *Logout:
		return *e
	case *Joined:
		return *e
	case *Left:
		return *e
	case *MessageReceived:
		return *e
	case *MessageRead:
		return *e
	case *UserTyping:
		return *e
	case *UserStoppedTyping:
		return *e
	case *Presence:
		return *e
	case *Error:
		return *e
	default:
		return ev
	}
}

// Encode wraps ev in a fresh envelope.
func Encode(ev Event, now time.Time) ([]byte, error) {
	env, err := Wrap(ev, now)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func Wrap(ev Event, now time.Time) (Envelope, error) {
	if ev == nil {
		return Envelope{}, fmt.Errorf("%w: nil event", ErrInvalidPayload)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	return Envelope{
		V:       Version,
		Type:    ev.Type(),
		ID:      NewID(now),
		TS:      now.UTC(),
		Payload: payload,
	}, nil
}

// NewID returns a ULID; lexicographic order follows creation time.
func NewID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}
