package domain

import (
	"chat-core/errors"
	"fmt"
	"strings"
)

type RoomID string

const roomSeparator = "_"

// ResolveRoomID derives the room shared by two participants.
// The result does not depend on argument order, so both sides of a
// conversation always land in the same room.
func ResolveRoomID(a, b ParticipantID) (RoomID, error) {
	if a.IsBlank() || b.IsBlank() {
		return "", fmt.Errorf("%w: %q and %q", errors.ErrInvalidParticipant, a, b)
	}
	if b < a {
		a, b = b, a
	}
	return RoomID(strings.Join([]string{string(a), string(b)}, roomSeparator)), nil
}
