package main

import (
	"bufio"
	"chat-core/domain"
	"chat-core/services"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const timeLayout = "15:04:05"

var (
	selfStyle   = color.New(color.FgGreen, color.OpBold)
	peerStyle   = color.New(color.FgCyan, color.OpBold)
	statusStyle = color.New(color.FgGray)
	noticeStyle = color.New(color.FgRed)
	bellStyle   = color.New(color.BgBlack, color.FgYellow)
)

type bellNotifier struct {
	out io.Writer
}

func newBellNotifier(out io.Writer) bellNotifier {
	return bellNotifier{out: out}
}

func (b bellNotifier) Notify(message domain.Message) {
	fmt.Fprintf(b.out, "\a%s\n", bellStyle.Sprintf(" new message from %s ", message.SenderID))
}

// terminal renders a session line by line and turns input lines into
// session actions.
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	svc     *services.ChatService
	session *services.ChatSession
	topic   string

	printed    map[domain.MessageID]domain.Status
	peerTyping bool
	notice     *domain.Notice
	loading    bool
	emptyShown bool
	cursor     *string
}

func newTerminal(out io.Writer, svc *services.ChatService, session *services.ChatSession, topic string) *terminal {
	return &terminal{
		out:     out,
		svc:     svc,
		session: session,
		topic:   topic,
		printed: make(map[domain.MessageID]domain.Status),
	}
}

// Run renders every change and handles input until /quit, end of input or ctx.
func (t *terminal) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	view := t.session.View()
	t.println(statusStyle.Sprintf("Conversation %s, type /help for commands", view.RoomID))
	t.render(view)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.session.Changes():
			t.render(t.session.View())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := t.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (t *terminal) handle(ctx context.Context, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/help":
		t.println(statusStyle.Render("/suggest /history /away /back /dismiss /quit, an empty line sends the suggestion"))
	case "/away":
		t.session.SetForeground(false)
		t.println(statusStyle.Render("away, arrivals ring the bell"))
	case "/back":
		t.session.SetForeground(true)
	case "/dismiss":
		t.session.DismissNotice()
	case "/suggest":
		view := t.session.View()
		text, err := t.session.Suggest(ctx, domain.SuggestionRequest{
			CounterpartyName: string(view.Counterparty),
			Topic:            t.topic,
		})
		if err != nil {
			t.println(noticeStyle.Sprintf("no suggestion: %v", err))
			return false
		}
		t.println(statusStyle.Sprintf("suggestion: %s", text))
	case "/history":
		t.history(ctx)
	case "":
		if input := t.session.View().Input; input != "" {
			t.send(input)
		}
	default:
		t.session.SetInput(line)
		t.send(line)
	}
	return false
}

func (t *terminal) send(text string) {
	if err := t.session.Send(text); err != nil {
		t.println(noticeStyle.Sprintf("not sent: %v", err))
	}
}

func (t *terminal) history(ctx context.Context) {
	view := t.session.View()
	messages, cursor, err := t.svc.History(ctx, view.Self, view.Counterparty, t.cursor)
	if err != nil {
		t.println(noticeStyle.Sprintf("history unavailable: %v", err))
		return
	}
	t.cursor = cursor
	if len(messages) == 0 {
		t.println(statusStyle.Render("no older messages"))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	table := tablewriter.NewWriter(t.out)
	table.SetHeader([]string{"Sent at", "From", "Status", "Text"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, m := range messages {
		table.Append([]string{m.SentAt.Format(timeLayout), string(m.SenderID), m.Status.String(), m.Text})
	}
	table.Render()
}

func (t *terminal) render(view services.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if view.Loading() && !t.loading {
		fmt.Fprintln(t.out, statusStyle.Render("loading..."))
	}
	t.loading = view.Loading()
	if view.Empty() && !t.emptyShown {
		fmt.Fprintln(t.out, statusStyle.Render("no messages yet"))
		t.emptyShown = true
	}

	for _, m := range view.Messages {
		status, seen := t.printed[m.ID]
		switch {
		case !seen:
			style := peerStyle
			if view.IsMine(m) {
				style = selfStyle
			}
			fmt.Fprintf(t.out, "[%s] %s %s\n", m.SentAt.Format(timeLayout), style.Sprintf("%s:", m.SenderID), m.Text)
		case view.IsMine(m) && status != m.Status:
			fmt.Fprintln(t.out, statusStyle.Sprintf("  %q is %s", m.Text, m.Status))
		}
		t.printed[m.ID] = m.Status
	}

	if view.PeerTyping && !t.peerTyping {
		fmt.Fprintln(t.out, statusStyle.Sprintf("%s is typing...", view.Counterparty))
	}
	t.peerTyping = view.PeerTyping

	if view.Notice != nil && !sameNotice(t.notice, view.Notice) {
		t.printNotice(*view.Notice)
	}
	t.notice = view.Notice
}

// printNotice must be called with mu held.
func (t *terminal) printNotice(notice domain.Notice) {
	switch notice.Kind {
	case domain.NoticeSubscriptionInterrupted:
		fmt.Fprintln(t.out, noticeStyle.Sprintf("connection interrupted, reconnecting: %v", notice.Err))
	default:
		if notice.Draft != "" {
			fmt.Fprintln(t.out, noticeStyle.Sprintf("message not sent, try again: %q (%v)", notice.Draft, notice.Err))
			return
		}
		fmt.Fprintln(t.out, noticeStyle.Sprintf("temporarily unavailable: %v", notice.Err))
	}
}

func (t *terminal) println(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, text)
}

func sameNotice(a, b *domain.Notice) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind == b.Kind && a.Draft == b.Draft && fmt.Sprint(a.Err) == fmt.Sprint(b.Err)
}
