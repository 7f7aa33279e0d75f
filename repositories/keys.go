package repositories

import (
	"chat-core/domain"
	"encoding/base64"
	"fmt"
)

// Room ids come from participant ids and may contain the ':' separator,
// so they are encoded before being used inside a key.
func roomSegment(roomID domain.RoomID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(roomID))
}

func messagePrefix(roomID domain.RoomID) string {
	return fmt.Sprintf("msg:%s:", roomSegment(roomID))
}

// messageKey is formatted as "msg:{room}:{seq_padded}" so that a prefix
// scan returns the room in sequence order (20 digits hold any uint64).
func messageKey(roomID domain.RoomID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix(roomID), seq))
}

func messageIndexKey(roomID domain.RoomID, id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("msgid:%s:%s", roomSegment(roomID), id))
}

func typingPrefix(roomID domain.RoomID) string {
	return fmt.Sprintf("typing:%s:", roomSegment(roomID))
}

func typingKey(roomID domain.RoomID, participantID domain.ParticipantID) []byte {
	return []byte(typingPrefix(roomID) + string(participantID))
}

// MessagePrefix is the key prefix of every message of a room, the empty
// room giving the prefix of all messages.
func MessagePrefix(roomID domain.RoomID) []byte {
	if roomID == "" {
		return []byte("msg:")
	}
	return []byte(messagePrefix(roomID))
}
