package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"rentchat/internal/app/dto"
	chatsvc "rentchat/internal/app/services/chat"
	"rentchat/internal/infra/realtime/chatclient"
)

func runInbox(ctx context.Context, args []string, _ io.Reader, stdout io.Writer) error {
	var conn connection
	fs := pflag.NewFlagSet("inbox", pflag.ContinueOnError)
	conn.AddFlags(fs)
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if err := conn.validate(); err != nil {
		return err
	}
	client, err := conn.messagingClient()
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.ListConversationsForUser(ctx, conn.UserID)
	if err != nil {
		return err
	}
	unread, err := client.UnreadTotal(ctx, conn.UserID)
	if err != nil {
		return err
	}
	st := newTheme(stdout)
	fmt.Fprintf(stdout, "%d conversation(s), %d unread\n", len(items), unread)
	for _, item := range items {
		fmt.Fprintf(stdout, "%s  %s\n", item.Conversation.ID, formatOverview(item, st))
	}
	return nil
}

func runHistory(ctx context.Context, args []string, _ io.Reader, stdout io.Writer) error {
	var conn connection
	var listingID, counterpartID string
	var page, limit int
	var markRead bool
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	conn.AddFlags(fs)
	fs.StringVarP(&listingID, "listing", "l", "", "listing id")
	fs.StringVar(&counterpartID, "with", "", "counterpart user id when you have several conversations on the listing")
	fs.IntVar(&page, "page", 1, "page number")
	fs.IntVar(&limit, "limit", chatsvc.DefaultPageLimit, "messages per page")
	fs.BoolVar(&markRead, "mark-read", false, "mark the conversation read afterwards")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if err := conn.validate(); err != nil {
		return err
	}
	if listingID == "" {
		return errors.New("--listing is required")
	}
	client, err := conn.messagingClient()
	if err != nil {
		return err
	}
	defer client.Close()

	thread, err := client.GetConversationByListing(ctx, chatsvc.ThreadQuery{
		ListingID:     listingID,
		UserID:        conn.UserID,
		CounterpartID: counterpartID,
		Page:          page,
		Limit:         limit,
	})
	if err != nil {
		return err
	}
	printThread(newLineWriter(stdout), thread, conn.UserID)
	if markRead && thread.Conversation != nil {
		n, err := client.MarkConversationRead(ctx, string(thread.Conversation.ID), conn.UserID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "marked %d message(s) read\n", n)
	}
	return nil
}

func runSend(ctx context.Context, args []string, _ io.Reader, stdout io.Writer) error {
	var conn connection
	var listingID, recipientID string
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	conn.AddFlags(fs)
	fs.StringVarP(&listingID, "listing", "l", "", "listing id")
	fs.StringVar(&recipientID, "to", "", "recipient user id")
	rest, err := parse(fs, args)
	if err != nil {
		return err
	}
	if err := conn.validate(); err != nil {
		return err
	}
	content := strings.TrimSpace(strings.Join(rest, " "))
	if listingID == "" || recipientID == "" || content == "" {
		return errors.New("usage: chatctl send --listing ID --to USER message text")
	}
	client, err := conn.messagingClient()
	if err != nil {
		return err
	}
	defer client.Close()

	adapter := conn.adapter(client)
	defer adapter.Disconnect()
	var res chatsvc.SendResult
	if err := adapter.Connect(ctx, conn.Token, conn.UserID); err != nil {
		fmt.Fprintf(stdout, "gateway unavailable (%v), sending without live delivery\n", err)
		res, err = client.SendMessage(ctx, chatsvc.SendParams{
			SenderID:    conn.UserID,
			RecipientID: recipientID,
			ListingID:   listingID,
			Content:     content,
		})
		if err != nil {
			return err
		}
	} else {
		if err := adapter.JoinRoom(listingID); err != nil {
			fmt.Fprintf(stdout, "join failed: %v\n", err)
		}
		res, err = adapter.SendMessage(ctx, listingID, recipientID, content)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "sent %s in conversation %s\n", res.Message.ID, res.Conversation.ID)
	return nil
}

func runChat(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var conn connection
	var listingID, counterpartID string
	fs := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	conn.AddFlags(fs)
	fs.StringVarP(&listingID, "listing", "l", "", "listing id")
	fs.StringVar(&counterpartID, "with", "", "counterpart user id (defaults to the listing host)")
	if _, err := parse(fs, args); err != nil {
		return err
	}
	if err := conn.validate(); err != nil {
		return err
	}
	if listingID == "" {
		return errors.New("--listing is required")
	}
	client, err := conn.messagingClient()
	if err != nil {
		return err
	}
	defer client.Close()

	adapter := conn.adapter(client)
	defer adapter.Disconnect()
	if err := adapter.Connect(ctx, conn.Token, conn.UserID); err != nil {
		return err
	}

	out := newLineWriter(stdout)
	thread, err := adapter.Thread(ctx, listingID, counterpartID, 1, chatsvc.DefaultPageLimit)
	if err != nil {
		return err
	}
	printThread(out, thread, conn.UserID)
	recipientID := counterpartID
	if recipientID == "" && thread.Counterpart != nil {
		recipientID = string(thread.Counterpart.ID)
	}
	if recipientID == "" {
		return errors.New("cannot tell who to talk to; pass --with")
	}
	if err := adapter.JoinRoom(listingID); err != nil {
		return err
	}

	events, unsubscribe := adapter.Subscribe(64)
	defer unsubscribe()
	s := &chatSession{adapter: adapter, out: out, listingID: listingID, recipientID: recipientID, self: conn.UserID}
	go s.printEvents(ctx, events)

	out.Printf("chatting with %s on %s. /read marks the last message read, /typing signals typing, /quit exits.", recipientID, listingID)
	return s.readInput(ctx, stdin)
}

type chatSession struct {
	adapter     *chatclient.Adapter
	out         *lineWriter
	listingID   string
	recipientID string
	self        string

	mu   sync.Mutex
	last *dto.Message
}

func (s *chatSession) printEvents(ctx context.Context, events <-chan chatclient.Event) {
	for ev := range events {
		if ev.Kind == chatclient.EventMessageReceived && ev.Message != nil {
			s.mu.Lock()
			s.last = ev.Message
			s.mu.Unlock()
		}
		s.out.Println(formatEvent(ev, s.self))
		if ev.Kind == chatclient.EventReconnected {
			// Live events sent while we were away are gone; history is not.
			if thread, err := s.adapter.Thread(ctx, s.listingID, s.recipientID, 1, chatsvc.DefaultPageLimit); err == nil {
				printThread(s.out, thread, s.self)
			}
		}
	}
}

func (s *chatSession) readInput(ctx context.Context, stdin io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if quit := s.handleLine(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (s *chatSession) handleLine(ctx context.Context, line string) bool {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/typing":
		if err := s.adapter.StartTyping(s.listingID, s.recipientID); err != nil {
			s.out.Printf("! typing: %v", err)
		}
		return false
	case "/read":
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		if last == nil {
			s.out.Println("* nothing to mark read")
			return false
		}
		if last.ID == "" {
			// The live copy has no id yet; reconcile through history.
			id, err := s.resolveID(ctx, last.ClientMsgID)
			if err != nil {
				s.out.Printf("! read: %v", err)
				return false
			}
			last.ID = id
		}
		if _, err := s.adapter.MarkRead(ctx, *last); err != nil {
			s.out.Printf("! read: %v", err)
		}
		return false
	}
	res, err := s.adapter.SendMessage(ctx, s.listingID, s.recipientID, line)
	if err != nil {
		s.out.Printf("! not sent: %v", err)
		return false
	}
	if res.Replayed {
		s.out.Println("* already sent")
	}
	return false
}

// resolveID finds the persisted id of a live message by its client id.
func (s *chatSession) resolveID(ctx context.Context, clientMsgID string) (string, error) {
	thread, err := s.adapter.Thread(ctx, s.listingID, s.recipientID, 1, chatsvc.DefaultPageLimit)
	if err != nil {
		return "", err
	}
	for i := len(thread.Messages) - 1; i >= 0; i-- {
		if m := thread.Messages[i]; clientMsgID != "" && m.ClientMsgID == clientMsgID {
			return string(m.ID), nil
		}
	}
	return "", errors.New("message not stored yet")
}

func printThread(out *lineWriter, thread chatsvc.Thread, self string) {
	title := thread.Listing.Title
	if title == "" {
		title = thread.Listing.ID
	}
	header := "-- " + title
	if thread.Counterpart != nil {
		header += " with " + thread.Counterpart.Name
	}
	out.Println(out.theme.header.Render(header))
	if thread.Conversation == nil {
		out.Println("(no messages yet)")
		return
	}
	for _, m := range thread.Messages {
		out.Println(formatMessage(m, self, out.theme))
	}
	if thread.HasMore {
		out.Printf("(page %d of %d messages, more available)", thread.Page, thread.Total)
	}
}
