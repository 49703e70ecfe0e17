package protocol

import (
	"errors"
	"testing"
	"time"

	"rentchat/internal/app/dto"
)

func TestEncodeDecodeVariants(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []Event{
		Join{ListingID: "l1"},
		Leave{},
		SendMessage{ListingID: "l1", RecipientID: "u2", Content: "hi", ClientMsgID: "c1"},
		TypingStart{ListingID: "l1"},
		TypingStop{ListingID: "l1", RecipientID: "u2"},
		MarkRead{MessageID: "m1", ListingID: "l1", SenderID: "u2"},
		Logout{},
		Joined{ListingID: "l1", Online: []string{"u2"}},
		MessageReceived{Message: dto.Message{ClientMsgID: "c1", Content: "hi"}},
		Presence{ListingID: "l1", UserID: "u2", Online: true},
		Error{Code: "rate_limited", Message: "slow down"},
	}
	for _, ev := range events {
		data, err := Encode(ev, now)
		if err != nil {
			t.Fatalf("encode %T: %v", ev, err)
		}
		env, got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %T: %v", ev, err)
		}
		if env.Type != ev.Type() || len(env.ID) != 26 || !env.TS.Equal(now) {
			t.Fatalf("bad envelope for %T: %+v", ev, env)
		}
		if got.Type() != ev.Type() {
			t.Fatalf("decoded %T as %T", ev, got)
		}
	}
}

func TestDecodeReturnsValues(t *testing.T) {
	data, err := Encode(Join{ListingID: "l9"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	_, ev, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	join, ok := ev.(Join)
	if !ok || join.ListingID != "l9" {
		t.Fatalf("expected Join value, got %#v", ev)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not json", raw: "{", want: ErrMalformed},
		{name: "wrong version", raw: `{"v":2,"type":"room.join","payload":{"listing_id":"l"}}`, want: ErrVersion},
		{name: "unknown type", raw: `{"v":1,"type":"room.explode"}`, want: ErrUnknownType},
		{name: "payload type mismatch", raw: `{"v":1,"type":"room.join","payload":{"listing_id":5}}`, want: ErrInvalidPayload},
		{name: "missing listing", raw: `{"v":1,"type":"room.join","payload":{}}`, want: ErrInvalidPayload},
		{name: "send without client id", raw: `{"v":1,"type":"message.send","payload":{"listing_id":"l","recipient_id":"u","content":"x"}}`, want: ErrInvalidPayload},
		{name: "blank content", raw: `{"v":1,"type":"message.send","payload":{"listing_id":"l","recipient_id":"u","content":"  ","client_msg_id":"c"}}`, want: ErrInvalidPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Decode([]byte(tc.raw)); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEmptyPayloadAllowedForLeave(t *testing.T) {
	_, ev, err := Decode([]byte(`{"v":1,"type":"room.leave","id":"x"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := ev.(Leave); !ok {
		t.Fatalf("expected Leave, got %T", ev)
	}
}
