// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable except for their delivery status.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageID = uuid.UUID

// Message is a persisted chat entry. Seq is assigned by the store and
// gives every room a total order regardless of client clocks.
type Message struct {
	ID       MessageID
	RoomID   RoomID
	SenderID ParticipantID
	Text     string
	Status   Status
	Seq      uint64
	SentAt   time.Time
}

// Draft is what a participant hands to the store on send.
type Draft struct {
	SenderID ParticipantID `validate:"required,notblank"`
	Text     string        `validate:"required,notblank"`
}
