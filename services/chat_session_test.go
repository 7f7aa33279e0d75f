package services

import (
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/mocks"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	agent = domain.ParticipantID("agent-1")
	lead  = domain.ParticipantID("lead-42")
	room  = domain.RoomID("agent-1_lead-42")

	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	messages   *mocks.MockIMessageStore
	typing     *mocks.MockITypingStore
	notifier   *mocks.MockNotifier
	snapshots  chan []domain.Message
	typingMaps chan domain.TypingMap
}

// feedFrom hands every value of updates to the callback until ctx is done.
func feedFrom[T any](updates chan T) func(context.Context, domain.RoomID, func(T)) error {
	return func(ctx context.Context, _ domain.RoomID, onUpdate func(T)) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case update := <-updates:
				onUpdate(update)
			}
		}
	}
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		messages:   mocks.NewMockIMessageStore(ctrl),
		typing:     mocks.NewMockITypingStore(ctrl),
		notifier:   mocks.NewMockNotifier(ctrl),
		snapshots:  make(chan []domain.Message),
		typingMaps: make(chan domain.TypingMap),
	}
	f.typing.EXPECT().Watch(gomock.Any(), room, gomock.Any()).DoAndReturn(feedFrom(f.typingMaps)).AnyTimes()
	return f
}

func (f *fixture) streamMessages() {
	f.messages.EXPECT().Watch(gomock.Any(), room, gomock.Any()).DoAndReturn(feedFrom(f.snapshots)).AnyTimes()
}

func (f *fixture) open(t *testing.T, cfg SessionConfig) *ChatSession {
	t.Helper()
	if cfg.Self == "" {
		cfg.Self, cfg.Counterparty = agent, lead
	}
	if cfg.TypingDebounce == 0 {
		cfg.TypingDebounce = time.Hour
	}
	cfg.RestartInterval = 10 * time.Millisecond
	session := NewChatSession(slog.Default(), cfg, f.messages, f.typing, f.notifier, nil, nil)
	require.NoError(t, session.Open(context.Background()))
	t.Cleanup(session.Close)
	return session
}

func (f *fixture) activate(t *testing.T, session *ChatSession, snapshot ...domain.Message) {
	t.Helper()
	f.snapshots <- snapshot
	require.Eventually(t, func() bool { return session.View().State == domain.SessionActive }, waitFor, tick)
}

func message(sender domain.ParticipantID, seq uint64, text string) domain.Message {
	return domain.Message{
		ID:       uuid.New(),
		RoomID:   room,
		SenderID: sender,
		Text:     text,
		Status:   domain.StatusSent,
		Seq:      seq,
		SentAt:   time.Now(),
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("timed out")
	}
}

func TestChatSession_Open(t *testing.T) {
	t.Run("blank counterparty keeps the session idle", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		session := NewChatSession(slog.Default(), SessionConfig{Self: agent, Counterparty: "  "}, f.messages, f.typing, nil, nil, nil)

		err := session.Open(context.Background())

		req.ErrorIs(err, errors.ErrInvalidParticipant)
		req.Equal(domain.SessionIdle, session.View().State)
	})

	t.Run("open twice is rejected", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.streamMessages()
		session := f.open(t, SessionConfig{})

		req.ErrorIs(session.Open(context.Background()), errors.ErrSessionAlreadyOpened)
	})
}

func TestChatSession_Loading_Then_Active(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()

	// Given an opened session without any snapshot
	session := f.open(t, SessionConfig{})

	// Then it is loading, not empty
	view := session.View()
	req.Equal(room, view.RoomID)
	req.True(view.Loading())
	req.False(view.Empty())

	// When the first, empty, snapshot comes in
	f.activate(t, session)

	// Then the conversation is loaded and empty
	view = session.View()
	req.False(view.Loading())
	req.True(view.Empty())
}

func TestChatSession_Marks_Counterparty_Messages_Read_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()
	own := message(agent, 1, "Hello!")
	incoming := message(lead, 2, "Hi agent")
	marked := make(chan struct{})

	// Only the counterparty message is marked, exactly once
	f.messages.EXPECT().SetStatus(gomock.Any(), room, incoming.ID, domain.StatusRead).
		DoAndReturn(func(context.Context, domain.RoomID, domain.MessageID, domain.Status) error {
			close(marked)
			return nil
		}).Times(1)

	session := f.open(t, SessionConfig{Foreground: true})

	// When the same snapshot is delivered several times
	f.snapshots <- []domain.Message{own, incoming}
	f.snapshots <- []domain.Message{own, incoming}
	waitClosed(t, marked)
	f.snapshots <- []domain.Message{own, incoming}

	view := session.View()
	req.Len(view.Messages, 2)
	req.True(view.IsMine(view.Messages[0]))
	req.False(view.IsMine(view.Messages[1]))
}

func TestChatSession_Retries_Failed_Read_Mark(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()
	incoming := message(lead, 1, "Hi agent")
	marked := make(chan struct{})

	gomock.InOrder(
		f.messages.EXPECT().SetStatus(gomock.Any(), room, incoming.ID, domain.StatusRead).
			Return(fmt.Errorf("%w: offline", errors.ErrPersistenceUnavailable)),
		f.messages.EXPECT().SetStatus(gomock.Any(), room, incoming.ID, domain.StatusRead).
			DoAndReturn(func(context.Context, domain.RoomID, domain.MessageID, domain.Status) error {
				close(marked)
				return nil
			}),
	)

	session := f.open(t, SessionConfig{Foreground: true})

	// Given a first mark failing
	f.snapshots <- []domain.Message{incoming}
	req.Eventually(func() bool { return session.View().Notice != nil }, waitFor, tick)
	req.Equal(domain.NoticePersistenceUnavailable, session.View().Notice.Kind)

	// When the message shows up unread again
	f.snapshots <- []domain.Message{incoming}

	// Then it is marked again
	waitClosed(t, marked)
}

func TestChatSession_Notifies_Background_Arrival_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()
	f.messages.EXPECT().SetStatus(gomock.Any(), room, gomock.Any(), domain.StatusRead).Return(nil).AnyTimes()

	history := message(lead, 1, "Earlier")
	arrival := message(lead, 2, "Are you there?")
	reply := message(agent, 3, "Yes")
	later := message(lead, 4, "Great")

	f.notifier.EXPECT().Notify(arrival).Times(1)

	session := f.open(t, SessionConfig{Foreground: false})

	// Given a baseline which never notifies
	f.activate(t, session, history)

	// When the counterparty writes while in background, and snapshots repeat
	f.snapshots <- []domain.Message{history, arrival}
	f.snapshots <- []domain.Message{history, arrival}

	// Then own messages never notify
	f.snapshots <- []domain.Message{history, arrival, reply}

	// Then nothing notifies in foreground
	session.SetForeground(true)
	f.snapshots <- []domain.Message{history, arrival, reply, later}

	req.Eventually(func() bool { return len(session.View().Messages) == 4 }, waitFor, tick)
	session.Close()
}

func TestChatSession_Shows_Counterparty_Typing_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()
	session := f.open(t, SessionConfig{})
	f.activate(t, session)

	// When both flags are set in the store
	f.typingMaps <- domain.TypingMap{agent: true, lead: true}

	// Then only the counterparty one is shown
	req.Eventually(func() bool { return session.View().PeerTyping }, waitFor, tick)
	req.False(session.View().SelfTyping)

	f.typingMaps <- domain.TypingMap{agent: true, lead: false}
	req.Eventually(func() bool { return !session.View().PeerTyping }, waitFor, tick)
}

func TestChatSession_Send(t *testing.T) {
	t.Run("not active", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.streamMessages()
		session := f.open(t, SessionConfig{})

		req.ErrorIs(session.Send("Hello!"), errors.ErrSessionNotActive)
	})

	t.Run("whitespace is ignored", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.streamMessages()
		session := f.open(t, SessionConfig{})
		f.activate(t, session)
		session.SetInput("   ")

		// No Append is expected
		req.NoError(session.Send("  \t\n "))

		req.Equal("   ", session.View().Input)
	})

	t.Run("success clears input and typing", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.streamMessages()
		flushed := make(chan struct{})
		f.messages.EXPECT().Append(gomock.Any(), room, domain.Draft{SenderID: agent, Text: "Hello!"}).Return(uuid.New(), nil)
		f.typing.EXPECT().SetTyping(gomock.Any(), room, agent, false).
			DoAndReturn(func(context.Context, domain.RoomID, domain.ParticipantID, bool) error {
				close(flushed)
				return nil
			})

		session := f.open(t, SessionConfig{})
		f.activate(t, session)
		session.SetInput("Hello!")
		req.True(session.View().SelfTyping)

		req.NoError(session.Send("Hello!"))

		// Then the input is cleared right away, the message is not inserted
		view := session.View()
		req.Empty(view.Input)
		req.Empty(view.Messages)
		waitClosed(t, flushed)
		req.False(session.View().SelfTyping)
	})

	t.Run("failure keeps the draft in a notice", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.streamMessages()
		f.messages.EXPECT().Append(gomock.Any(), room, gomock.Any()).
			Return(uuid.Nil, fmt.Errorf("%w: offline", errors.ErrPersistenceUnavailable))
		var mu sync.Mutex
		var written []bool
		f.typing.EXPECT().SetTyping(gomock.Any(), room, agent, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ domain.RoomID, _ domain.ParticipantID, isTyping bool) error {
				mu.Lock()
				defer mu.Unlock()
				written = append(written, isTyping)
				return nil
			}).AnyTimes()

		session := f.open(t, SessionConfig{TypingDebounce: 20 * time.Millisecond})
		f.activate(t, session)
		session.SetInput("Hello!")

		req.NoError(session.Send("Hello!"))
		req.False(session.View().SelfTyping)

		req.Eventually(func() bool { return session.View().Notice != nil }, waitFor, tick)
		notice := session.View().Notice
		req.Equal(domain.NoticePersistenceUnavailable, notice.Kind)
		req.Equal("Hello!", notice.Draft)
		req.ErrorIs(notice.Err, errors.ErrPersistenceUnavailable)
		req.Empty(session.View().Messages)

		session.DismissNotice()
		req.Nil(session.View().Notice)

		// Then the typing flag still goes down without a successful append
		req.Eventually(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(written) > 0 && !written[len(written)-1]
		}, waitFor, tick)
		req.False(session.View().SelfTyping)
	})

	t.Run("outbound filter", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		f := newFixture(t)
		f.streamMessages()
		filter := mocks.NewMockTextFilter(ctrl)
		appended := make(chan struct{})
		filter.EXPECT().Censor("you badger").Return("you ******")
		f.messages.EXPECT().Append(gomock.Any(), room, domain.Draft{SenderID: agent, Text: "you ******"}).
			DoAndReturn(func(context.Context, domain.RoomID, domain.Draft) (domain.MessageID, error) {
				close(appended)
				return uuid.New(), nil
			})
		f.typing.EXPECT().SetTyping(gomock.Any(), room, agent, false).Return(nil).AnyTimes()

		session := NewChatSession(slog.Default(), SessionConfig{Self: agent, Counterparty: lead}, f.messages, f.typing, nil, filter, nil)
		req.NoError(session.Open(context.Background()))
		t.Cleanup(session.Close)
		f.activate(t, session)

		req.NoError(session.Send("you badger"))
		waitClosed(t, appended)
	})
}

func TestChatSession_Close_Cancels_Pending_Typing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()

	// Given a pending debounced typing write
	session := f.open(t, SessionConfig{TypingDebounce: 20 * time.Millisecond})
	f.activate(t, session)
	session.SetInput("Hel")

	// When the session is closed before the quiet period
	session.Close()
	time.Sleep(60 * time.Millisecond)

	// Then no SetTyping happened and the session stays closed
	req.Equal(domain.SessionClosed, session.View().State)
	session.Close()
}

func TestChatSession_Discards_Late_Callbacks(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()
	session := f.open(t, SessionConfig{})
	f.activate(t, session)

	session.Close()
	session.onSnapshot([]domain.Message{message(lead, 1, "too late")})
	session.onTyping(domain.TypingMap{lead: true})
	session.onFeedError(messagesFeed, errors.ErrSubscriptionInterrupted)
	session.SetInput("ignored")

	view := session.View()
	req.Equal(domain.SessionClosed, view.State)
	req.Empty(view.Messages)
	req.False(view.PeerTyping)
	req.Nil(view.Notice)
	req.Empty(view.Input)
	req.ErrorIs(session.Send("Hello!"), errors.ErrSessionNotActive)
}

func TestChatSession_Interrupted_Feed_Keeps_Messages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	own := message(agent, 1, "Hello!")
	resumed := make(chan []domain.Message)

	gomock.InOrder(
		f.messages.EXPECT().Watch(gomock.Any(), room, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ domain.RoomID, onSnapshot func([]domain.Message)) error {
				onSnapshot([]domain.Message{own})
				return fmt.Errorf("%w: connection reset", errors.ErrSubscriptionInterrupted)
			}),
		f.messages.EXPECT().Watch(gomock.Any(), room, gomock.Any()).
			DoAndReturn(feedFrom(resumed)).AnyTimes(),
	)

	session := f.open(t, SessionConfig{})

	// When the stream breaks after a snapshot
	req.Eventually(func() bool { return session.View().Notice != nil }, waitFor, tick)

	// Then the messages stay and the notice tells the subscription is interrupted
	view := session.View()
	req.Equal(domain.NoticeSubscriptionInterrupted, view.Notice.Kind)
	req.Len(view.Messages, 1)
	req.Equal(domain.SessionActive, view.State)

	// When the feed restarts with a fresh snapshot
	resumed <- []domain.Message{own}

	// Then the notice goes away
	req.Eventually(func() bool { return session.View().Notice == nil }, waitFor, tick)
	req.Len(session.View().Messages, 1)
}

func TestChatSession_Suggest(t *testing.T) {
	t.Run("prefills an empty input", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		f := newFixture(t)
		f.streamMessages()
		suggester := mocks.NewMockReplySuggester(ctrl)
		request := domain.SuggestionRequest{CounterpartyName: "Lead", Topic: "Seaside flat"}
		suggester.EXPECT().Suggest(gomock.Any(), request).Return("Hello Lead", nil).Times(2)

		session := NewChatSession(slog.Default(), SessionConfig{Self: agent, Counterparty: lead}, f.messages, f.typing, nil, nil, suggester)
		req.NoError(session.Open(context.Background()))
		t.Cleanup(session.Close)

		text, err := session.Suggest(context.Background(), request)
		req.NoError(err)
		req.Equal("Hello Lead", text)
		req.Equal("Hello Lead", session.View().Input)

		// When the user already typed, the input is kept
		session.SetInput("Hi")
		_, err = session.Suggest(context.Background(), request)
		req.NoError(err)
		req.Equal("Hi", session.View().Input)
	})

	t.Run("no suggester", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		session := NewChatSession(slog.Default(), SessionConfig{Self: agent, Counterparty: lead}, f.messages, f.typing, nil, nil, nil)

		_, err := session.Suggest(context.Background(), domain.SuggestionRequest{})
		req.ErrorIs(err, errors.ErrNoSuggester)
	})
}

func TestChatSession_Changes_Coalesce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	session := NewChatSession(slog.Default(), SessionConfig{Self: agent, Counterparty: lead}, f.messages, f.typing, nil, nil, nil)

	session.SetInput("a")
	session.SetInput("ab")
	session.SetForeground(false)

	req.Len(session.Changes(), 1)
	<-session.Changes()
	req.Len(session.Changes(), 0)
}

func TestChatSession_Close_Cancels_Inflight_Append(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.streamMessages()
	appending := make(chan struct{})
	f.messages.EXPECT().Append(gomock.Any(), room, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.RoomID, _ domain.Draft) (domain.MessageID, error) {
			close(appending)
			<-ctx.Done()
			return uuid.Nil, ctx.Err()
		})

	// Given an append stuck on a slow store
	session := f.open(t, SessionConfig{WriteTimeout: time.Hour})
	f.activate(t, session)
	req.NoError(session.Send("Hello!"))
	waitClosed(t, appending)

	// When the session closes
	closed := make(chan struct{})
	go func() {
		session.Close()
		close(closed)
	}()

	// Then it does not wait for the write timeout
	waitClosed(t, closed)
	view := session.View()
	req.Equal(domain.SessionClosed, view.State)
	req.Nil(view.Notice)
}
