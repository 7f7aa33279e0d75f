// Package presence debounces typing indicators before they reach the store.
package presence

import (
	"chat-core/contract"
	"chat-core/domain"
	"context"
	"log/slog"
	"sync"
	"time"
)

type key struct {
	room        domain.RoomID
	participant domain.ParticipantID
}

// slot is the pending write of one participant in one room.
type slot struct {
	// writeMu is held while the store write is in flight
	writeMu sync.Mutex
	timer   *time.Timer
	value   bool
	gen     uint64
}

// Tracker collapses bursts of typing updates into a single store write of
// the last value, once no update came in for the quiet period.
type Tracker struct {
	store        contract.ITypingStore
	log          *slog.Logger
	quiet        time.Duration
	writeTimeout time.Duration
	onError      func(error)

	mu      sync.Mutex
	slots   map[key]*slot
	stopped bool
}

func NewTracker(store contract.ITypingStore, log *slog.Logger, quiet, writeTimeout time.Duration, onError func(error)) *Tracker {
	return &Tracker{
		store:        store,
		log:          log,
		quiet:        quiet,
		writeTimeout: writeTimeout,
		onError:      onError,
		slots:        make(map[key]*slot),
	}
}

// SetTyping schedules a write of isTyping once the quiet period elapsed,
// replacing any value still pending for the same participant.
func (t *Tracker) SetTyping(roomID domain.RoomID, participantID domain.ParticipantID, isTyping bool) {
	k := key{room: roomID, participant: participantID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	s := t.slotFor(k)
	s.value = isTyping
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(t.quiet, func() { t.fire(k, s, gen) })
}

// Flush drops the pending value and writes isTyping right away.
func (t *Tracker) Flush(roomID domain.RoomID, participantID domain.ParticipantID, isTyping bool) {
	k := key{room: roomID, participant: participantID}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	s := t.slotFor(k)
	s.value = isTyping
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	t.mu.Unlock()

	t.fire(k, s, gen)
}

// Cancel drops the pending write of a participant. Once it returns, no
// write for that participant is in flight and none will happen.
func (t *Tracker) Cancel(roomID domain.RoomID, participantID domain.ParticipantID) {
	k := key{room: roomID, participant: participantID}

	t.mu.Lock()
	s := t.slots[k]
	if s != nil {
		t.drop(k, s)
	}
	t.mu.Unlock()

	if s != nil {
		s.writeMu.Lock()
		//nolint:staticcheck // waiting for the in-flight write
		s.writeMu.Unlock()
	}
}

// Stop cancels every pending write and ignores any later update.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	slots := make([]*slot, 0, len(t.slots))
	for k, s := range t.slots {
		t.drop(k, s)
		slots = append(slots, s)
	}
	t.mu.Unlock()

	for _, s := range slots {
		s.writeMu.Lock()
		//nolint:staticcheck // waiting for the in-flight write
		s.writeMu.Unlock()
	}
}

// Pending reports whether a write is scheduled or in flight for the participant.
func (t *Tracker) Pending(roomID domain.RoomID, participantID domain.ParticipantID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.slots[key{room: roomID, participant: participantID}]
	return ok
}

// Watch hands the full typing map of the room over on every change.
func (t *Tracker) Watch(ctx context.Context, roomID domain.RoomID, onChange func(domain.TypingMap)) error {
	return t.store.Watch(ctx, roomID, onChange)
}

func (t *Tracker) slotFor(k key) *slot {
	s, ok := t.slots[k]
	if !ok {
		s = &slot{}
		t.slots[k] = s
	}
	return s
}

// drop must be called with t.mu held.
func (t *Tracker) drop(k key, s *slot) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	delete(t.slots, k)
}

// fire writes the value of generation gen unless it was superseded or
// cancelled meanwhile. Writes of one slot never overlap.
func (t *Tracker) fire(k key, s *slot, gen uint64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	t.mu.Lock()
	if t.slots[k] != s || s.gen != gen {
		t.mu.Unlock()
		return
	}
	value := s.value
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	err := t.store.SetTyping(ctx, k.room, k.participant, value)
	cancel()
	if err != nil {
		t.log.Warn("Typing write failed", "room", k.room, "participant", k.participant, "error", err)
		if t.onError != nil {
			t.onError(err)
		}
	}

	t.mu.Lock()
	if t.slots[k] == s && s.gen == gen {
		delete(t.slots, k)
	}
	t.mu.Unlock()
}
