//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-core/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

type namedWorker interface {
	GetName() WorkerName
}

// GetWorkerName returns the worker's own name when it has one and falls
// back on the type name otherwise. Used for logging and supervision.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	if n, ok := w.(namedWorker); ok && n.GetName() != "" {
		return string(n.GetName())
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IMessageStore is the append-only, observable message log of every room.
type IMessageStore interface {
	Append(ctx context.Context, roomID domain.RoomID, draft domain.Draft) (domain.MessageID, error)
	SetStatus(ctx context.Context, roomID domain.RoomID, messageID domain.MessageID, status domain.Status) error
	Messages(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error)
	// Watch delivers a full snapshot right away and after every change.
	// It blocks until ctx is done or the stream breaks.
	Watch(ctx context.Context, roomID domain.RoomID, onSnapshot func([]domain.Message)) error
}

// IMessageHistory pages a room from the newest message backwards.
type IMessageHistory interface {
	Page(ctx context.Context, roomID domain.RoomID, cursor *string) ([]domain.Message, *string, error)
}

// ITypingStore keeps the ephemeral typing map of every room.
type ITypingStore interface {
	SetTyping(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, isTyping bool) error
	Typing(ctx context.Context, roomID domain.RoomID) (domain.TypingMap, error)
	Watch(ctx context.Context, roomID domain.RoomID, onChange func(domain.TypingMap)) error
}

// Notifier plays the cue for a message arriving while the view is in background.
type Notifier interface {
	Notify(message domain.Message)
}

type ReplySuggester interface {
	Suggest(ctx context.Context, request domain.SuggestionRequest) (string, error)
}

// TextFilter rewrites outbound text before it is stored.
type TextFilter interface {
	Censor(original string) string
}
