package services

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/presence"
	"chat-core/projection"
	"chat-core/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	DefaultTypingDebounce  = 500 * time.Millisecond
	DefaultWriteTimeout    = 5 * time.Second
	DefaultRestartInterval = time.Second

	messagesFeed = "messages"
	typingFeed   = "typing"
)

type SessionConfig struct {
	Self         domain.ParticipantID
	Counterparty domain.ParticipantID
	// Foreground tells whether the conversation is visible to the user
	Foreground      bool
	TypingDebounce  time.Duration
	WriteTimeout    time.Duration
	RestartInterval time.Duration
}

// View is a consistent copy of the session state for rendering.
type View struct {
	State        domain.SessionState
	RoomID       domain.RoomID
	Self         domain.ParticipantID
	Counterparty domain.ParticipantID
	Messages     []domain.Message
	Input        string
	SelfTyping   bool
	PeerTyping   bool
	Notice       *domain.Notice
}

// Loading is true until the first snapshot came in.
func (v View) Loading() bool {
	return v.State == domain.SessionLoading
}

// Empty is true for a loaded conversation without any message.
func (v View) Empty() bool {
	return v.State == domain.SessionActive && len(v.Messages) == 0
}

func (v View) IsMine(message domain.Message) bool {
	return domain.IsSentBy(message, v.Self)
}

// ChatSession is the conversation of Self with Counterparty as seen by Self.
// Every handler (feed callbacks, user actions, async completions) runs
// under mu, store calls and notifications run outside of it.
type ChatSession struct {
	log       *slog.Logger
	cfg       SessionConfig
	messages  contract.IMessageStore
	typing    contract.ITypingStore
	notifier  contract.Notifier
	filter    contract.TextFilter
	suggester contract.ReplySuggester
	changes   chan struct{}

	mu            sync.Mutex
	state         domain.SessionState
	roomID        domain.RoomID
	timeline      *projection.Timeline
	input         string
	selfTyping    bool
	peerTyping    bool
	foreground    bool
	notice        *domain.Notice
	interruptedBy string
	readRequested map[domain.MessageID]struct{}
	tracker       *presence.Tracker
	supervisor    *workers.Supervisor
	done          chan struct{}
	// pending counts appends and read marks still running
	pending sync.WaitGroup
	// writes bounds appends and read marks, Close cancels it
	writes       context.Context
	cancelWrites context.CancelFunc
}

func NewChatSession(
	log *slog.Logger,
	cfg SessionConfig,
	messages contract.IMessageStore,
	typing contract.ITypingStore,
	notifier contract.Notifier,
	filter contract.TextFilter,
	suggester contract.ReplySuggester,
) *ChatSession {
	if cfg.TypingDebounce <= 0 {
		cfg.TypingDebounce = DefaultTypingDebounce
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = DefaultRestartInterval
	}
	writes, cancelWrites := context.WithCancel(context.Background())
	return &ChatSession{
		log:           log,
		cfg:           cfg,
		messages:      messages,
		typing:        typing,
		notifier:      notifier,
		filter:        filter,
		suggester:     suggester,
		changes:       make(chan struct{}, 1),
		state:         domain.SessionIdle,
		timeline:      projection.NewTimeline(cfg.Self),
		foreground:    cfg.Foreground,
		readRequested: make(map[domain.MessageID]struct{}),
		writes:        writes,
		cancelWrites:  cancelWrites,
	}
}

// Open resolves the room and subscribes to its messages and typing map.
// The session stays Loading until the first message snapshot.
func (s *ChatSession) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionIdle {
		return fmt.Errorf("%w: state is %s", errors.ErrSessionAlreadyOpened, s.state)
	}

	roomID, err := domain.ResolveRoomID(s.cfg.Self, s.cfg.Counterparty)
	if err != nil {
		return err
	}
	s.roomID = roomID
	s.log = s.log.With("room", roomID, "self", s.cfg.Self)
	s.state = domain.SessionLoading

	s.tracker = presence.NewTracker(s.typing, s.log, s.cfg.TypingDebounce, s.cfg.WriteTimeout, s.onTypingError)
	tracker := s.tracker

	messages := workers.NewFeed[[]domain.Message](s.log,
		func(ctx context.Context, onSnapshot func([]domain.Message)) error {
			return s.messages.Watch(ctx, roomID, onSnapshot)
		},
		s.onSnapshot,
		func(err error) { s.onFeedError(messagesFeed, err) },
	).WithName(messagesFeed)

	typing := workers.NewFeed[domain.TypingMap](s.log,
		func(ctx context.Context, onChange func(domain.TypingMap)) error {
			return tracker.Watch(ctx, roomID, onChange)
		},
		s.onTyping,
		func(err error) { s.onFeedError(typingFeed, err) },
	).WithName(typingFeed)

	s.supervisor = workers.NewSupervisor(s.log, s.cfg.RestartInterval)
	s.supervisor.Add(messages, typing)

	supervisor := s.supervisor
	s.done = make(chan struct{})
	done := s.done
	go func() {
		defer close(done)
		supervisor.Run(ctx)
	}()

	s.log.Info("Chat session opened")
	s.signal()
	return nil
}

// SetInput records a keystroke. Once active, the own typing flag follows
// whether the input is empty, debounced.
func (s *ChatSession) SetInput(text string) {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	s.input = text
	active := s.state == domain.SessionActive
	if active {
		s.selfTyping = text != ""
	}
	tracker, roomID := s.tracker, s.roomID
	s.mu.Unlock()
	s.signal()

	if active {
		tracker.SetTyping(roomID, s.cfg.Self, text != "")
	}
}

// Send clears the input, drops the own typing flag and appends the text in
// the background. Blank text is ignored. The message only shows up once the
// store hands it back.
func (s *ChatSession) Send(text string) error {
	s.mu.Lock()
	if s.state != domain.SessionActive {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", errors.ErrSessionNotActive, state)
	}
	if strings.TrimSpace(text) == "" {
		s.mu.Unlock()
		return nil
	}
	s.input = ""
	s.selfTyping = false
	tracker, roomID := s.tracker, s.roomID
	s.pending.Add(1)
	s.mu.Unlock()
	s.signal()

	// replaces a debounced true still pending from the last keystroke
	tracker.SetTyping(roomID, s.cfg.Self, false)

	body := text
	if s.filter != nil {
		body = s.filter.Censor(text)
	}
	go s.append(roomID, text, body)
	return nil
}

func (s *ChatSession) append(roomID domain.RoomID, draft, body string) {
	defer s.pending.Done()

	ctx, cancel := context.WithTimeout(s.writes, s.cfg.WriteTimeout)
	defer cancel()
	messageID, err := s.messages.Append(ctx, roomID, domain.Draft{SenderID: s.cfg.Self, Text: body})

	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.log.Warn("Unable to send message", "error", err)
		s.raise(domain.Notice{Kind: domain.NoticePersistenceUnavailable, Err: err, Draft: draft})
		s.mu.Unlock()
		s.signal()
		return
	}
	s.log.Debug("Message sent", "id", messageID)
	s.selfTyping = false
	tracker := s.tracker
	s.mu.Unlock()
	s.signal()

	tracker.Flush(roomID, s.cfg.Self, false)
}

// SetForeground tells whether the conversation is visible to the user.
func (s *ChatSession) SetForeground(foreground bool) {
	s.mu.Lock()
	s.foreground = foreground
	s.mu.Unlock()
	s.signal()
}

func (s *ChatSession) DismissNotice() {
	s.mu.Lock()
	s.notice = nil
	s.interruptedBy = ""
	s.mu.Unlock()
	s.signal()
}

// Suggest asks for a reply and prefills the input when it is still empty.
func (s *ChatSession) Suggest(ctx context.Context, request domain.SuggestionRequest) (string, error) {
	if s.suggester == nil {
		return "", errors.ErrNoSuggester
	}
	text, err := s.suggester.Suggest(ctx, request)
	if err != nil {
		s.log.Warn("Unable to suggest a reply", "error", err)
		return "", err
	}

	s.mu.Lock()
	if s.state != domain.SessionClosed && s.input == "" {
		s.input = text
	}
	s.mu.Unlock()
	s.signal()
	return text, nil
}

// Changes signals that the view changed. Signals coalesce: one pending
// signal stands for any number of changes.
func (s *ChatSession) Changes() <-chan struct{} {
	return s.changes
}

func (s *ChatSession) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := View{
		State:        s.state,
		RoomID:       s.roomID,
		Self:         s.cfg.Self,
		Counterparty: s.cfg.Counterparty,
		Messages:     s.timeline.Snapshot(),
		Input:        s.input,
		SelfTyping:   s.selfTyping,
		PeerTyping:   s.peerTyping,
	}
	if s.notice != nil {
		notice := *s.notice
		view.Notice = &notice
	}
	return view
}

// Close cancels pending typing writes, both subscriptions and any append or
// read mark still in flight, and returns once they are gone. An unsent
// message is dropped without a notice. Later callbacks are discarded.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionClosed
	tracker, supervisor, done := s.tracker, s.supervisor, s.done
	s.mu.Unlock()

	// the tracker error callback locks the session
	if tracker != nil {
		tracker.Stop()
	}
	if supervisor != nil {
		supervisor.Stop()
		<-done
	}
	s.cancelWrites()
	s.pending.Wait()
	s.log.Info("Chat session closed")
	s.signal()
}

func (s *ChatSession) onSnapshot(snapshot []domain.Message) {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	baseline := !s.timeline.Synced()
	arrived := s.timeline.Apply(snapshot)
	s.state = domain.SessionActive
	if s.interruptedBy == messagesFeed {
		s.clearInterruption()
	}

	var notify *domain.Message
	if latest, ok := s.timeline.Latest(); ok && !baseline && !s.foreground && !domain.IsSentBy(latest, s.cfg.Self) {
		if lo.ContainsBy(arrived, func(m domain.Message) bool { return m.ID == latest.ID }) {
			notify = &latest
		}
	}

	var toMark []domain.Message
	for _, m := range s.timeline.Unread() {
		if _, ok := s.readRequested[m.ID]; ok {
			continue
		}
		s.readRequested[m.ID] = struct{}{}
		toMark = append(toMark, m)
	}
	s.pending.Add(len(toMark))
	roomID := s.roomID
	s.mu.Unlock()
	s.signal()

	if notify != nil && s.notifier != nil {
		s.notifier.Notify(*notify)
	}
	for _, m := range toMark {
		go s.markRead(roomID, m.ID)
	}
}

// markRead is fire and forget. A failure is forgotten so that the next
// snapshot, still showing the message unread, asks again.
func (s *ChatSession) markRead(roomID domain.RoomID, messageID domain.MessageID) {
	defer s.pending.Done()

	ctx, cancel := context.WithTimeout(s.writes, s.cfg.WriteTimeout)
	defer cancel()
	err := s.messages.SetStatus(ctx, roomID, messageID, domain.StatusRead)
	if err == nil {
		return
	}

	s.log.Warn("Unable to mark message as read", "id", messageID, "error", err)
	s.mu.Lock()
	delete(s.readRequested, messageID)
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	s.raise(domain.Notice{Kind: domain.NoticePersistenceUnavailable, Err: err})
	s.mu.Unlock()
	s.signal()
}

func (s *ChatSession) onTyping(typing domain.TypingMap) {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	// only the counterparty's flag is read, ours is never echoed back
	s.peerTyping = typing.IsTyping(s.cfg.Counterparty)
	if s.interruptedBy == typingFeed {
		s.clearInterruption()
	}
	s.mu.Unlock()
	s.signal()
}

func (s *ChatSession) onFeedError(feed string, err error) {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	if s.raise(domain.Notice{Kind: domain.NoticeSubscriptionInterrupted, Err: err}) {
		s.interruptedBy = feed
	}
	s.mu.Unlock()
	s.signal()
}

func (s *ChatSession) onTypingError(err error) {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return
	}
	s.raise(domain.Notice{Kind: domain.NoticePersistenceUnavailable, Err: err})
	s.mu.Unlock()
	s.signal()
}

// raise must be called with mu held. A notice carrying a failed draft is
// never replaced by one without.
func (s *ChatSession) raise(notice domain.Notice) bool {
	if s.notice != nil && s.notice.Draft != "" && notice.Draft == "" {
		return false
	}
	s.notice = &notice
	s.interruptedBy = ""
	return true
}

// clearInterruption must be called with mu held.
func (s *ChatSession) clearInterruption() {
	if s.notice != nil && s.notice.Kind == domain.NoticeSubscriptionInterrupted {
		s.notice = nil
	}
	s.interruptedBy = ""
}

func (s *ChatSession) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
