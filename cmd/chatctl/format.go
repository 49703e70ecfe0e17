package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/realtime/chatclient"
)

const (
	clock = "15:04"

	columnWidthTitle = 28
	columnWidthWho   = 16
)

// theme holds the styles for one output stream. Colors degrade to plain
// text when the stream is not a terminal.
type theme struct {
	title  lipgloss.Style
	who    lipgloss.Style
	when   lipgloss.Style
	unread lipgloss.Style
	self   lipgloss.Style
	header lipgloss.Style
}

func newTheme(w io.Writer) theme {
	r := lipgloss.NewRenderer(w)
	return theme{
		title:  r.NewStyle().Width(columnWidthTitle).MaxWidth(columnWidthTitle),
		who:    r.NewStyle().Width(columnWidthWho).MaxWidth(columnWidthWho).Foreground(lipgloss.Color("6")),
		when:   r.NewStyle().Faint(true),
		unread: r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		self:   r.NewStyle().Foreground(lipgloss.Color("2")),
		header: r.NewStyle().Bold(true),
	}
}

func formatOverview(o chatsvc.Overview, st theme) string {
	title := o.Conversation.ListingID
	if o.Listing != nil && o.Listing.Title != "" {
		title = o.Listing.Title
	}
	who := o.Counterpart.Name
	if who == "" {
		who = string(o.Counterpart.ID)
	}
	line := st.title.Render(truncate(title, columnWidthTitle)) + " " + st.who.Render(truncate(who, columnWidthWho))
	if o.LastMessage != nil {
		line += " " + st.when.Render(o.LastMessage.At.Local().Format("Jan 02 "+clock)) + fmt.Sprintf(" %q", o.LastMessage.Preview)
	}
	if o.UnreadCount > 0 {
		line += " " + st.unread.Render(fmt.Sprintf("(%d unread)", o.UnreadCount))
	}
	return line
}

func formatMessage(m domainchat.Message, self string, st theme) string {
	who := m.SenderID
	if who == self {
		who = st.self.Render("you")
	}
	mark := ""
	if m.SenderID == self && m.Read {
		mark = " ✓"
	}
	return st.when.Render("["+m.CreatedAt.Local().Format(clock)+"]") + " " + who + ": " + m.Content + mark
}

func formatEvent(ev chatclient.Event, self string) string {
	switch ev.Kind {
	case chatclient.EventMessageReceived:
		if ev.Message == nil {
			return ""
		}
		return fmt.Sprintf("[%s] %s: %s", ev.At.Local().Format(clock), ev.Message.SenderID, ev.Message.Content)
	case chatclient.EventMessageRead:
		return fmt.Sprintf("* %s read your message", ev.UserID)
	case chatclient.EventUserTyping:
		return fmt.Sprintf("* %s is typing...", ev.UserID)
	case chatclient.EventUserStoppedTyping:
		return ""
	case chatclient.EventPresence:
		if ev.UserID == self {
			return ""
		}
		if ev.Online {
			return fmt.Sprintf("* %s is online", ev.UserID)
		}
		return fmt.Sprintf("* %s went offline", ev.UserID)
	case chatclient.EventConnectionError:
		return fmt.Sprintf("! connection problem: %v", ev.Err)
	case chatclient.EventReconnected:
		return "* reconnected"
	case chatclient.EventRejected:
		return fmt.Sprintf("! %v", ev.Err)
	default:
		return ""
	}
}

// truncate cuts s to n display cells, ending in an ellipsis when shortened.
func truncate(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	if n <= 1 {
		return string([]rune(s)[:n])
	}
	r := []rune(s)
	for cut := len(r) - 1; cut >= 0; cut-- {
		if candidate := string(r[:cut]); lipgloss.Width(candidate) <= n-1 {
			return candidate + "…"
		}
	}
	return "…"
}

// lineWriter serializes whole lines from the event printer and the prompt.
type lineWriter struct {
	mu    sync.Mutex
	w     io.Writer
	theme theme
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{w: w, theme: newTheme(w)}
}

func (l *lineWriter) Println(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, line)
}

func (l *lineWriter) Printf(format string, args ...any) {
	l.Println(fmt.Sprintf(format, args...))
}
