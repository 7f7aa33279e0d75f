package repositories

import (
	"chat-core/domain"
	apperrors "chat-core/errors"
	"chat-core/runtime"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	sequenceKey       = "seq:messages"
	sequenceBandwidth = 128
	maxTxnAttempts    = 3
)

// MessageRepository is the badger backed message log of every room.
type MessageRepository struct {
	db       *badger.DB
	log      *slog.Logger
	registry *runtime.Registry
	validate *validator.Validate
	pageSize int

	// mu serializes appends so that commit order follows sequence order
	mu  sync.Mutex
	seq *badger.Sequence
	now func() time.Time
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, registry *runtime.Registry, pageSize int) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	validate := validator.New()
	if err = validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, err
	}
	return &MessageRepository{
		db:       db,
		log:      log,
		registry: registry,
		validate: validate,
		pageSize: pageSize,
		seq:      seq,
		now:      time.Now,
	}, nil
}

// Close hands the leased but unused sequence numbers back to badger.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

// Append stores a new message with status sent. The ordering token is taken
// from a badger sequence at write time, never from the client.
func (m *MessageRepository) Append(ctx context.Context, roomID domain.RoomID, draft domain.Draft) (domain.MessageID, error) {
	if err := m.validateDraft(roomID, draft); err != nil {
		return uuid.Nil, err
	}
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.seq.Next()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", apperrors.ErrPersistenceUnavailable, err)
	}
	message := domain.Message{
		ID:       uuid.New(),
		RoomID:   roomID,
		SenderID: draft.SenderID,
		Text:     draft.Text,
		Status:   domain.StatusSent,
		// badger sequences start at zero
		Seq:    next + 1,
		SentAt: m.now().UTC(),
	}
	key := messageKey(roomID, message.Seq)
	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, toDiskMessage(message).Marshal()); err != nil {
			return err
		}
		return txn.Set(messageIndexKey(roomID, message.ID), key)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", apperrors.ErrPersistenceUnavailable, err)
	}

	m.registry.Publish(messagePrefix(roomID))
	return message.ID, nil
}

// SetStatus moves a message forward along sent -> delivered -> read.
// Asking for the current or a lower status is a no-op.
func (m *MessageRepository) SetStatus(ctx context.Context, roomID domain.RoomID, messageID domain.MessageID, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %d", apperrors.ErrInvalidStatus, status)
	}

	var changed bool
	var err error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		changed, err = m.advanceStatus(roomID, messageID, status)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		m.log.Debug("Status update conflict, retrying", "message", messageID, "attempt", attempt+1)
	}
	switch {
	case errors.Is(err, apperrors.ErrMessageNotFound):
		return err
	case err != nil:
		return fmt.Errorf("%w: %v", apperrors.ErrPersistenceUnavailable, err)
	}

	if changed {
		m.registry.Publish(messagePrefix(roomID))
	}
	return nil
}

func (m *MessageRepository) advanceStatus(roomID domain.RoomID, messageID domain.MessageID, status domain.Status) (bool, error) {
	changed := false
	err := m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIndexKey(roomID, messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", apperrors.ErrMessageNotFound, messageID)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		disk, err := UnmarshalDiskMessage(raw)
		if err != nil {
			return err
		}

		next, ok := domain.Status(disk.Status).Advance(status)
		if !ok {
			return nil
		}
		disk.Status = int(next)
		changed = true
		return txn.Set(key, disk.Marshal())
	})
	return changed, err
}

// Messages returns the whole room in ascending sequence order.
func (m *MessageRepository) Messages(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var diskMessages []DiskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix(roomID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				disk, err := UnmarshalDiskMessage(value)
				if err != nil {
					return err
				}
				diskMessages = append(diskMessages, disk)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toMessages(diskMessages), nil
}

// Page retrieves the history of a room from the newest message backwards.
// The cursor is the sequence part of the last key returned; nil starts
// from the newest message. At most pageSize messages are returned.
func (m *MessageRepository) Page(ctx context.Context, roomID domain.RoomID, cursor *string) ([]domain.Message, *string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var diskMessages []DiskMessage
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := messagePrefix(roomID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Highest possible key of the room, then walk back
			seekKey = append(prefix, []byte("99999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.pageSize > 0 && len(diskMessages) == m.pageSize {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", m.pageSize))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			err := item.Value(func(value []byte) error {
				disk, err := UnmarshalDiskMessage(value)
				if err != nil {
					return err
				}
				diskMessages = append(diskMessages, disk)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(diskMessages) == 0 {
		return nil, nil, nil
	}
	return toMessages(diskMessages), &lastKey, nil
}

// Watch delivers the full room right away, then again after every change.
// Publications arriving while a snapshot is built collapse into a single
// reload, so a slow consumer always catches up on the latest state.
func (m *MessageRepository) Watch(ctx context.Context, roomID domain.RoomID, onSnapshot func([]domain.Message)) error {
	signal, unsubscribe := m.registry.Subscribe(messagePrefix(roomID))
	defer unsubscribe()

	for {
		messages, err := m.Messages(ctx, roomID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrSubscriptionInterrupted, err)
		}
		onSnapshot(messages)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
		}
	}
}

func (m *MessageRepository) validateDraft(roomID domain.RoomID, draft domain.Draft) error {
	if string(roomID) == "" {
		return fmt.Errorf("%w: empty room", apperrors.ErrInvalidParticipant)
	}
	err := m.validate.Struct(draft)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	if lo.ContainsBy(validationErrors, func(fe validator.FieldError) bool { return fe.Field() == "Text" }) {
		return apperrors.ErrEmptyText
	}
	return fmt.Errorf("%w: %v", apperrors.ErrInvalidParticipant, err)
}

func toMessages(diskMessages []DiskMessage) []domain.Message {
	return lo.Map(diskMessages, func(item DiskMessage, _ int) domain.Message {
		return item.ToMessage()
	})
}
