package domain

// TypingMap holds the typing flag of every participant of a room.
// Last write wins, there is no history.
type TypingMap map[ParticipantID]bool

func (t TypingMap) IsTyping(p ParticipantID) bool {
	return t[p]
}
