package main

import (
	"chat-core/domain"
	"flag"
	"time"
)

// Flags select the conversation, the rest of the configuration comes
// from the environment.
type Flags struct {
	Self     domain.ParticipantID
	Peer     domain.ParticipantID
	Topic    string
	Bot      bool
	BotDelay time.Duration
}

func parseFlags() Flags {
	self := flag.String("self", "agent-1", "Participant id of the terminal user")
	peer := flag.String("peer", "lead-42", "Participant id of the counterparty")
	topic := flag.String("topic", "the seaside flat", "Topic used for reply suggestions")
	bot := flag.Bool("bot", true, "Run an auto-responder as the counterparty")
	botDelay := flag.Duration("bot-delay", 2*time.Second, "Time the auto-responder spends typing")
	flag.Parse()

	return Flags{
		Self:     domain.ParticipantID(*self),
		Peer:     domain.ParticipantID(*peer),
		Topic:    *topic,
		Bot:      *bot,
		BotDelay: *botDelay,
	}
}
