package services

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"log/slog"
)

type IChatService interface {
	Open(ctx context.Context, self, counterparty domain.ParticipantID, notifier contract.Notifier) (*ChatSession, error)
	History(ctx context.Context, self, counterparty domain.ParticipantID, cursor *string) ([]domain.Message, *string, error)
}

// ChatService shares the stores and session options between the sessions
// it opens.
type ChatService struct {
	log       *slog.Logger
	messages  contract.IMessageStore
	history   contract.IMessageHistory
	typing    contract.ITypingStore
	filter    contract.TextFilter
	suggester contract.ReplySuggester
	options   SessionConfig
}

// NewChatService keeps the durations and the initial foreground flag of
// options, participants are given to Open.
func NewChatService(
	log *slog.Logger,
	messages contract.IMessageStore,
	history contract.IMessageHistory,
	typing contract.ITypingStore,
	filter contract.TextFilter,
	suggester contract.ReplySuggester,
	options SessionConfig,
) *ChatService {
	return &ChatService{
		log:       log,
		messages:  messages,
		history:   history,
		typing:    typing,
		filter:    filter,
		suggester: suggester,
		options:   options,
	}
}

// Open starts a session of self with counterparty, in the foreground when
// options say so. ctx bounds the subscriptions of the session.
func (s *ChatService) Open(ctx context.Context, self, counterparty domain.ParticipantID, notifier contract.Notifier) (*ChatSession, error) {
	cfg := s.options
	cfg.Self = self
	cfg.Counterparty = counterparty

	session := NewChatSession(s.log, cfg, s.messages, s.typing, notifier, s.filter, s.suggester)
	if err := session.Open(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// History pages the conversation from the newest message backwards.
func (s *ChatService) History(ctx context.Context, self, counterparty domain.ParticipantID, cursor *string) ([]domain.Message, *string, error) {
	roomID, err := domain.ResolveRoomID(self, counterparty)
	if err != nil {
		return nil, nil, err
	}
	return s.history.Page(ctx, roomID, cursor)
}
