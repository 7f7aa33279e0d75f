// Package domain contains core concepts of the chat system.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

// ParticipantID is an opaque stable identifier, agents and leads alike.
type ParticipantID string

func (p ParticipantID) IsBlank() bool {
	return strings.TrimSpace(string(p)) == ""
}

// IsSentBy reports whether self authored the message.
func IsSentBy(message Message, self ParticipantID) bool {
	return message.SenderID == self
}
