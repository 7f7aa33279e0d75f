package domain

// SessionState is the lifecycle of a chat session: Idle -> Loading -> Active -> Closed.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionLoading
	SessionActive
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionLoading:
		return "loading"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type NoticeKind int

const (
	NoticePersistenceUnavailable NoticeKind = iota + 1
	NoticeSubscriptionInterrupted
)

// Notice is a transient, dismissible message for the user.
// Draft carries the text of a send that could not be persisted.
type Notice struct {
	Kind  NoticeKind
	Err   error
	Draft string
}
