// Package storetest holds the behaviour every conversation/message store
// driver must share. Drivers call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domainchat "rentchat/internal/domain/chat"
)

// Factory returns a fresh, empty pair of stores for one subtest.
type Factory func(t *testing.T) (domainchat.ConversationStore, domainchat.MessageStore)

func Run(t *testing.T, newStores Factory) {
	t.Helper()
	t.Run("FindOrCreateIsUnique", func(t *testing.T) { testFindOrCreateUnique(t, newStores) })
	t.Run("FindOrCreateConcurrent", func(t *testing.T) { testFindOrCreateConcurrent(t, newStores) })
	t.Run("ListingScoped", func(t *testing.T) { testListingScoped(t, newStores) })
	t.Run("PageNewestFirst", func(t *testing.T) { testPageNewestFirst(t, newStores) })
	t.Run("MarkReadMonotonic", func(t *testing.T) { testMarkReadMonotonic(t, newStores) })
	t.Run("ConversationReadAndUnread", func(t *testing.T) { testConversationRead(t, newStores) })
	t.Run("RecordLastMessageForwardOnly", func(t *testing.T) { testRecordLastMessage(t, newStores) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStores) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Unique suffix so drivers backed by a shared database do not collide
// between runs.
func uniq(prefix string) string {
	return prefix + "-" + domainchat.NewID()
}

func mustConversation(t *testing.T, listingID, a, b string, at time.Time) domainchat.Conversation {
	t.Helper()
	conv, err := domainchat.NewConversation(listingID, a, b, at)
	if err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	return conv
}

func mustCreate(t *testing.T, store domainchat.ConversationStore, draft domainchat.Conversation) domainchat.Conversation {
	t.Helper()
	conv, _, err := store.FindOrCreate(context.Background(), draft)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	return conv
}

func mustAppend(t *testing.T, store domainchat.MessageStore, conv domainchat.Conversation, sender, recipient, content string, at time.Time) domainchat.Message {
	t.Helper()
	msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
		Conversation: conv,
		SenderID:     sender,
		RecipientID:  recipient,
		Content:      content,
		Now:          at,
	})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if err := store.Append(context.Background(), msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	return msg
}

func testFindOrCreateUnique(t *testing.T, newStores Factory) {
	convs, _ := newStores(t)
	ctx := context.Background()
	listing, tenant, landlord := uniq("listing"), uniq("tenant"), uniq("landlord")

	first, created, err := convs.FindOrCreate(ctx, mustConversation(t, listing, tenant, landlord, base))
	if err != nil || !created {
		t.Fatalf("expected first call to create, created=%v err=%v", created, err)
	}
	second, created, err := convs.FindOrCreate(ctx, mustConversation(t, listing, landlord, tenant, base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("second find or create: %v", err)
	}
	if created {
		t.Fatal("expected second call with swapped participants to find the existing conversation")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same conversation, got %s and %s", first.ID, second.ID)
	}
	if second.Participants[0] != tenant {
		t.Fatalf("expected stored participant order to be kept, got %v", second.Participants)
	}
}

func testFindOrCreateConcurrent(t *testing.T, newStores Factory) {
	convs, _ := newStores(t)
	listing, tenant, landlord := uniq("listing"), uniq("tenant"), uniq("landlord")

	const workers = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[domainchat.ConversationID]int)
		n   int
	)
	drafts := make([]domainchat.Conversation, workers)
	for i := range drafts {
		a, b := tenant, landlord
		if i%2 == 1 {
			a, b = b, a
		}
		drafts[i] = mustConversation(t, listing, a, b, base)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(draft domainchat.Conversation) {
			defer wg.Done()
			var (
				conv    domainchat.Conversation
				created bool
				err     error
			)
			for attempt := 0; attempt < 3; attempt++ {
				conv, created, err = convs.FindOrCreate(context.Background(), draft)
				if !errors.Is(err, domainchat.ErrKeyConflict) {
					break
				}
			}
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			mu.Lock()
			ids[conv.ID]++
			if created {
				n++
			}
			mu.Unlock()
		}(drafts[i])
	}
	wg.Wait()
	if len(ids) != 1 {
		t.Fatalf("expected exactly one conversation, got %d: %v", len(ids), ids)
	}
	if n != 1 {
		t.Fatalf("expected exactly one creator, got %d", n)
	}
}

func testListingScoped(t *testing.T, newStores Factory) {
	convs, _ := newStores(t)
	ctx := context.Background()
	tenant, landlord := uniq("tenant"), uniq("landlord")
	l1, l2 := uniq("listing"), uniq("listing")

	c1 := mustCreate(t, convs, mustConversation(t, l1, tenant, landlord, base))
	c2 := mustCreate(t, convs, mustConversation(t, l2, tenant, landlord, base.Add(time.Minute)))
	if c1.ID == c2.ID {
		t.Fatal("expected one conversation per listing")
	}

	got, err := convs.ByListing(ctx, l1, tenant)
	if err != nil {
		t.Fatalf("by listing: %v", err)
	}
	if len(got) != 1 || got[0].ID != c1.ID {
		t.Fatalf("expected only %s for %s, got %+v", c1.ID, l1, got)
	}
	none, err := convs.ByListing(ctx, l1, uniq("stranger"))
	if err != nil {
		t.Fatalf("by listing stranger: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no conversations for a non-participant, got %d", len(none))
	}

	list, err := convs.ListByParticipant(ctx, landlord)
	if err != nil {
		t.Fatalf("list by participant: %v", err)
	}
	if len(list) != 2 || list[0].ID != c2.ID || list[1].ID != c1.ID {
		t.Fatalf("expected most recent first [%s %s], got %+v", c2.ID, c1.ID, list)
	}
}

func testPageNewestFirst(t *testing.T, newStores Factory) {
	convs, msgs := newStores(t)
	ctx := context.Background()
	tenant, landlord := uniq("tenant"), uniq("landlord")
	conv := mustCreate(t, convs, mustConversation(t, uniq("listing"), tenant, landlord, base))

	var sent []domainchat.Message
	for i := 0; i < 5; i++ {
		from, to := tenant, landlord
		if i%2 == 1 {
			from, to = to, from
		}
		sent = append(sent, mustAppend(t, msgs, conv, from, to, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	page, total, err := msgs.Page(ctx, conv.ID, 0, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(page) != 2 || page[0].ID != sent[4].ID || page[1].ID != sent[3].ID {
		t.Fatalf("expected newest two messages, got %+v", page)
	}

	page, _, err = msgs.Page(ctx, conv.ID, 4, 2)
	if err != nil {
		t.Fatalf("page offset: %v", err)
	}
	if len(page) != 1 || page[0].ID != sent[0].ID {
		t.Fatalf("expected oldest message on the last page, got %+v", page)
	}

	page, total, err = msgs.Page(ctx, conv.ID, 10, 2)
	if err != nil {
		t.Fatalf("page past end: %v", err)
	}
	if len(page) != 0 || total != 5 {
		t.Fatalf("expected empty page past the end, got %d messages total %d", len(page), total)
	}
}

func testMarkReadMonotonic(t *testing.T, newStores Factory) {
	convs, msgs := newStores(t)
	ctx := context.Background()
	tenant, landlord := uniq("tenant"), uniq("landlord")
	conv := mustCreate(t, convs, mustConversation(t, uniq("listing"), tenant, landlord, base))
	msg := mustAppend(t, msgs, conv, tenant, landlord, "hello", base)

	changed, err := msgs.MarkRead(ctx, msg.ID, base.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("expected first mark read to change state, changed=%v err=%v", changed, err)
	}
	changed, err = msgs.MarkRead(ctx, msg.ID, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if changed {
		t.Fatal("expected second mark read to be a no-op")
	}
	stored, err := msgs.ByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if !stored.Read || stored.ReadAt == nil || !stored.ReadAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected read at first mark time, got read=%v at=%v", stored.Read, stored.ReadAt)
	}
}

func testConversationRead(t *testing.T, newStores Factory) {
	convs, msgs := newStores(t)
	ctx := context.Background()
	tenant, landlord := uniq("tenant"), uniq("landlord")
	conv := mustCreate(t, convs, mustConversation(t, uniq("listing"), tenant, landlord, base))
	for i := 0; i < 3; i++ {
		mustAppend(t, msgs, conv, tenant, landlord, "to landlord", base.Add(time.Duration(i)*time.Second))
	}
	mustAppend(t, msgs, conv, landlord, tenant, "to tenant", base.Add(time.Minute))

	unread, err := msgs.CountUnread(ctx, conv.ID, landlord)
	if err != nil || unread != 3 {
		t.Fatalf("expected 3 unread for landlord, got %d err=%v", unread, err)
	}
	n, err := msgs.MarkConversationRead(ctx, conv.ID, landlord, base.Add(time.Hour))
	if err != nil || n != 3 {
		t.Fatalf("expected 3 marked, got %d err=%v", n, err)
	}
	n, err = msgs.MarkConversationRead(ctx, conv.ID, landlord, base.Add(2*time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("expected repeat to mark nothing, got %d err=%v", n, err)
	}
	unread, _ = msgs.CountUnread(ctx, conv.ID, landlord)
	if unread != 0 {
		t.Fatalf("expected landlord unread 0, got %d", unread)
	}
	unread, _ = msgs.CountUnread(ctx, conv.ID, tenant)
	if unread != 1 {
		t.Fatalf("expected tenant unread untouched at 1, got %d", unread)
	}
}

func testRecordLastMessage(t *testing.T, newStores Factory) {
	convs, msgs := newStores(t)
	ctx := context.Background()
	tenant, landlord := uniq("tenant"), uniq("landlord")
	conv := mustCreate(t, convs, mustConversation(t, uniq("listing"), tenant, landlord, base))
	newer := mustAppend(t, msgs, conv, tenant, landlord, "newer", base.Add(2*time.Minute))
	older := mustAppend(t, msgs, conv, landlord, tenant, "older", base.Add(time.Minute))

	if err := convs.RecordLastMessage(ctx, newer); err != nil {
		t.Fatalf("record newer: %v", err)
	}
	if err := convs.RecordLastMessage(ctx, older); err != nil {
		t.Fatalf("record older: %v", err)
	}
	got, err := convs.ByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if got.LastMessageID != newer.ID || got.LastMessagePreview != "newer" {
		t.Fatalf("expected last message to stay %s, got %s (%q)", newer.ID, got.LastMessageID, got.LastMessagePreview)
	}
	if !got.LastMessageAt.Equal(newer.CreatedAt) {
		t.Fatalf("expected last message at %v, got %v", newer.CreatedAt, got.LastMessageAt)
	}
}

func testNotFound(t *testing.T, newStores Factory) {
	convs, msgs := newStores(t)
	ctx := context.Background()
	if _, err := convs.ByID(ctx, domainchat.ConversationID(domainchat.NewID())); !errors.Is(err, domainchat.ErrNotFound) {
		t.Fatalf("expected conversation not found, got %v", err)
	}
	if _, err := msgs.ByID(ctx, domainchat.MessageID(domainchat.NewID())); !errors.Is(err, domainchat.ErrNotFound) {
		t.Fatalf("expected message not found, got %v", err)
	}
	if _, err := msgs.MarkRead(ctx, domainchat.MessageID(domainchat.NewID()), base); !errors.Is(err, domainchat.ErrNotFound) {
		t.Fatalf("expected mark read not found, got %v", err)
	}
}
