package repositories

import (
	"chat-core/domain"
	apperrors "chat-core/errors"
	"chat-core/runtime"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	typingOn  = byte('1')
	typingOff = byte('0')

	// badger stores expiry in whole seconds
	expiryMargin = 50 * time.Millisecond
)

// TypingRepository keeps typing flags in badger under
// "typing:{room}:{participant}". Entries expire after ttl so that a
// participant who vanished mid-word doesn't stay typing forever.
type TypingRepository struct {
	db       *badger.DB
	log      *slog.Logger
	registry *runtime.Registry
	ttl      time.Duration
}

func NewTypingRepository(db *badger.DB, log *slog.Logger, registry *runtime.Registry, ttl time.Duration) TypingRepository {
	return TypingRepository{db: db, log: log, registry: registry, ttl: ttl}
}

func (r TypingRepository) SetTyping(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, isTyping bool) error {
	if participantID.IsBlank() {
		return apperrors.ErrInvalidParticipant
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	value := typingOff
	if isTyping {
		value = typingOn
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(typingKey(roomID, participantID), []byte{value})
		if r.ttl > 0 {
			entry = entry.WithTTL(r.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistenceUnavailable, err)
	}
	r.registry.Publish(typingPrefix(roomID))
	return nil
}

// Typing returns the current flag of every participant of the room.
// Expired entries are simply absent, which reads as not typing.
func (r TypingRepository) Typing(ctx context.Context, roomID domain.RoomID) (domain.TypingMap, error) {
	typing, _, err := r.read(ctx, roomID)
	return typing, err
}

// read also returns when the first typing flag of the room expires, zero
// when no participant is typing.
func (r TypingRepository) read(ctx context.Context, roomID domain.RoomID) (domain.TypingMap, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	typing := make(domain.TypingMap)
	var expiresAt uint64
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := typingPrefix(roomID)
		prefix := []byte(prefixStr)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			participantID := domain.ParticipantID(item.Key()[len(prefixStr):])
			err := item.Value(func(value []byte) error {
				typing[participantID] = len(value) == 1 && value[0] == typingOn
				return nil
			})
			if err != nil {
				return err
			}
			if typing[participantID] && item.ExpiresAt() > 0 && (expiresAt == 0 || item.ExpiresAt() < expiresAt) {
				expiresAt = item.ExpiresAt()
			}
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	if expiresAt == 0 {
		return typing, time.Time{}, nil
	}
	return typing, time.Unix(int64(expiresAt), 0), nil
}

// Watch delivers the full typing map right away, after every change and
// whenever a typing flag expires, since expiry publishes nothing.
func (r TypingRepository) Watch(ctx context.Context, roomID domain.RoomID, onChange func(domain.TypingMap)) error {
	signal, unsubscribe := r.registry.Subscribe(typingPrefix(roomID))
	defer unsubscribe()

	for {
		typing, expiresAt, err := r.read(ctx, roomID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrSubscriptionInterrupted, err)
		}
		onChange(typing)

		expired, err := waitTypingChange(ctx, signal, expiresAt)
		if err != nil {
			return err
		}
		if expired {
			r.log.Debug("Typing flag expired", "room", roomID)
		}
	}
}

// waitTypingChange blocks until a write is signalled, the flag expiring
// at expiresAt is gone, or ctx is done. It reports which of the first two
// woke it up.
func waitTypingChange(ctx context.Context, signal <-chan struct{}, expiresAt time.Time) (bool, error) {
	var expired <-chan time.Time
	if !expiresAt.IsZero() {
		timer := time.NewTimer(time.Until(expiresAt) + expiryMargin)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-signal:
		return false, nil
	case <-expired:
		return true, nil
	}
}
