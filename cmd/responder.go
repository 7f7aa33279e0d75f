package main

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/services"
	"context"
	"fmt"
	"log/slog"
	"time"
)

const fallbackReply = "Thanks for your message, I will get back to you shortly."

// Responder plays the counterparty: it answers every message it receives
// after showing itself typing for a while.
type Responder struct {
	Name  contract.WorkerName
	log   *slog.Logger
	svc   *services.ChatService
	self  domain.ParticipantID
	peer  domain.ParticipantID
	topic string
	delay time.Duration
}

func NewResponder(log *slog.Logger, svc *services.ChatService, self, peer domain.ParticipantID, topic string, delay time.Duration) *Responder {
	return &Responder{log: log, svc: svc, self: self, peer: peer, topic: topic, delay: delay}
}

func (r *Responder) WithName(name string) *Responder {
	r.Name = contract.WorkerName(name)
	return r
}

func (r *Responder) GetName() contract.WorkerName { return r.Name }

// Run answers until ctx is done. A failing send ends the run with an
// error so that the supervisor opens a fresh session.
func (r *Responder) Run(ctx context.Context) error {
	session, err := r.svc.Open(ctx, r.self, r.peer, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	var answered map[domain.MessageID]struct{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Changes():
		}

		view := session.View()
		if view.State != domain.SessionActive {
			continue
		}
		// what was there before we joined is not answered
		if answered == nil {
			answered = make(map[domain.MessageID]struct{}, len(view.Messages))
			for _, m := range view.Messages {
				answered[m.ID] = struct{}{}
			}
			continue
		}

		for _, m := range view.Messages {
			if _, ok := answered[m.ID]; ok || view.IsMine(m) {
				continue
			}
			answered[m.ID] = struct{}{}
			if err := r.reply(ctx, session, m); err != nil {
				return err
			}
		}
	}
}

func (r *Responder) reply(ctx context.Context, session *services.ChatSession, message domain.Message) error {
	text, err := session.Suggest(ctx, domain.SuggestionRequest{
		CounterpartyName: string(message.SenderID),
		Topic:            r.topic,
		SourceContext:    fmt.Sprintf("About %q, let me check.", message.Text),
	})
	if err != nil {
		text = fallbackReply
	}
	session.SetInput(text)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(r.delay):
	}

	r.log.Debug("Responder replying", "to", message.ID)
	return session.Send(text)
}
