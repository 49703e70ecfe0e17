package chatclient

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"rentchat/internal/infra/realtime/protocol"
)

// loop reads the current session and reconnects when it drops, until the
// adapter tears it down.
func (a *Adapter) loop(ctx context.Context, sess *session, done chan struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		if a.loopDone == done {
			a.sess, a.cancelLoop, a.loopDone = nil, nil, nil
		}
		a.mu.Unlock()
	}()

	for {
		err := a.read(ctx, sess)
		sess.close(false, "read ended")
		if !a.current(done) {
			return
		}
		a.logger.Warn("chat.connection.lost", "error", err)
		a.publish(Event{Kind: EventConnectionError, Err: err})

		next, room := a.reconnect(ctx, done)
		if next == nil {
			return
		}
		sess = next
		a.logger.Info("chat.reconnected", "room", room)
		a.publish(Event{Kind: EventReconnected, ListingID: room})
	}
}

func (a *Adapter) current(done chan struct{}) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loopDone == done
}

// reconnect dials with capped exponential backoff and rejoins the last
// room. It gives up when the loop is torn down or the credential is
// rejected.
func (a *Adapter) reconnect(ctx context.Context, done chan struct{}) (*session, string) {
	a.mu.Lock()
	a.sess = nil
	credential := a.credential
	a.mu.Unlock()

	for attempt := 0; ; attempt++ {
		delay := backoff(a.opts.BackoffMin, a.opts.BackoffMax, attempt)
		select {
		case <-ctx.Done():
			return nil, ""
		case <-time.After(delay):
		}

		sess, err := a.dial(ctx, credential)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				a.logger.Warn("chat.reconnect.unauthorized", "error", err)
				a.publish(Event{Kind: EventConnectionError, Err: err})
				return nil, ""
			}
			a.logger.Info("chat.reconnect.fail", "attempt", attempt+1, "delay", delay, "error", err)
			continue
		}

		a.mu.Lock()
		if a.loopDone != done {
			a.mu.Unlock()
			sess.close(false, "superseded")
			return nil, ""
		}
		a.sess = sess
		room := a.room
		a.mu.Unlock()

		if room != "" {
			if err := sess.enqueue(protocol.Join{ListingID: room}); err != nil {
				a.logger.Warn("chat.rejoin.fail", "listing_id", room, "error", err)
			}
		}
		return sess, room
	}
}

// backoff doubles base per attempt up to limit and keeps a random half of
// the result.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base << min(attempt, 20)
	if d <= 0 || d > limit {
		d = limit
	}
	half := d / 2
	return half + rand.N(half+1)
}

func (a *Adapter) read(ctx context.Context, sess *session) error {
	for {
		_, data, err := sess.ws.Read(ctx)
		if err != nil {
			return err
		}
		_, ev, err := protocol.Decode(data)
		if err != nil {
			a.logger.Info("chat.decode.fail", "error", err)
			continue
		}
		a.handle(ev)
	}
}

func (a *Adapter) handle(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.MessageReceived:
		msg := e.Message
		a.clearRemoteTyping(msg.ListingID, msg.SenderID)
		a.publish(Event{Kind: EventMessageReceived, ListingID: msg.ListingID, UserID: msg.SenderID, Message: &msg, At: msg.CreatedAt})
	case protocol.MessageRead:
		a.publish(Event{Kind: EventMessageRead, ListingID: e.ListingID, UserID: e.ReaderID, MessageID: e.MessageID, At: e.ReadAt})
	case protocol.UserTyping:
		a.armRemoteTyping(e.ListingID, e.UserID)
		a.publish(Event{Kind: EventUserTyping, ListingID: e.ListingID, UserID: e.UserID})
	case protocol.UserStoppedTyping:
		a.clearRemoteTyping(e.ListingID, e.UserID)
		a.publish(Event{Kind: EventUserStoppedTyping, ListingID: e.ListingID, UserID: e.UserID})
	case protocol.Presence:
		a.publish(Event{Kind: EventPresence, ListingID: e.ListingID, UserID: e.UserID, Online: e.Online})
	case protocol.Joined:
		for _, userID := range e.Online {
			a.publish(Event{Kind: EventPresence, ListingID: e.ListingID, UserID: userID, Online: true})
		}
	case protocol.Error:
		a.publish(Event{Kind: EventRejected, Err: rejection(e)})
	}
}

func rejection(e protocol.Error) error {
	parts := []string{e.Code}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return &RejectedError{Code: e.Code, Ref: e.Ref, Message: strings.Join(parts, ": ")}
}

// RejectedError is a gateway error frame. errors.Is(err, ErrRejected) holds.
type RejectedError struct {
	Code    string
	Ref     string
	Message string
}

func (e *RejectedError) Error() string { return "gateway rejected event: " + e.Message }

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// armRemoteTyping (re)starts the receiver-side TTL that synthesizes a
// stopped-typing event when the typist goes quiet.
func (a *Adapter) armRemoteTyping(listingID, userID string) {
	key := listingID + "/" + userID
	a.mu.Lock()
	defer a.mu.Unlock()
	if t := a.remote[key]; t != nil {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(a.opts.TypingTTL, func() {
		a.mu.Lock()
		fire := a.remote[key] == t
		if fire {
			delete(a.remote, key)
		}
		a.mu.Unlock()
		if fire {
			a.publish(Event{Kind: EventUserStoppedTyping, ListingID: listingID, UserID: userID})
		}
	})
	a.remote[key] = t
}

func (a *Adapter) clearRemoteTyping(listingID, userID string) {
	key := listingID + "/" + userID
	a.mu.Lock()
	defer a.mu.Unlock()
	if t := a.remote[key]; t != nil {
		t.Stop()
		delete(a.remote, key)
	}
}

// Subscribe registers a listener. Events are dropped for a listener whose
// buffer is full. The returned func unsubscribes and closes the channel.
func (a *Adapter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.subMu.Unlock()

	var once bool
	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(a.subs, id)
		close(ch)
	}
}

func (a *Adapter) publish(ev Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for id, ch := range a.subs {
		select {
		case ch <- ev:
		default:
			a.logger.Debug("chat.event.dropped", "kind", ev.Kind, "subscriber", id)
		}
	}
}
