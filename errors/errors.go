package errors

import "fmt"

var (
	ErrWorkerPanic             = fmt.Errorf("worker panic")
	ErrEmptyWords              = fmt.Errorf("no words have been found")
	ErrInvalidParticipant      = fmt.Errorf("invalid participant")
	ErrEmptyText               = fmt.Errorf("message text is blank")
	ErrMessageNotFound         = fmt.Errorf("message not found")
	ErrInvalidStatus           = fmt.Errorf("invalid message status")
	ErrPersistenceUnavailable  = fmt.Errorf("persistence temporarily unavailable")
	ErrSubscriptionInterrupted = fmt.Errorf("subscription interrupted")
	ErrSessionNotActive        = fmt.Errorf("chat session is not active")
	ErrSessionAlreadyOpened    = fmt.Errorf("chat session already opened")
	ErrNoSuggester             = fmt.Errorf("no reply suggester configured")
)
