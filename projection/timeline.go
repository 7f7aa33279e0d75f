// Package projection builds the local timeline of a session from store snapshots.
// Handles ordering, deduplication, and arrival detection.
// Does not emit events or interact with UI directly.
package projection

import (
	"chat-core/domain"
	"slices"

	"github.com/samber/lo"
)

// Timeline holds the last snapshot observed by one participant.
type Timeline struct {
	Owner    domain.ParticipantID
	Messages []domain.Message
	seen     map[domain.MessageID]struct{}
	synced   bool
}

func NewTimeline(owner domain.ParticipantID) *Timeline {
	return &Timeline{
		Owner: owner,
		seen:  make(map[domain.MessageID]struct{}),
	}
}

// Apply replaces the timeline with a full snapshot and returns the messages
// never observed before, in order. A snapshot carrying twice the same
// message keeps its first occurrence.
func (t *Timeline) Apply(snapshot []domain.Message) []domain.Message {
	messages := lo.UniqBy(snapshot, func(m domain.Message) domain.MessageID { return m.ID })
	slices.SortStableFunc(messages, func(a, b domain.Message) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	var arrived []domain.Message
	for _, m := range messages {
		if _, ok := t.seen[m.ID]; !ok {
			t.seen[m.ID] = struct{}{}
			arrived = append(arrived, m)
		}
	}
	t.Messages = messages
	t.synced = true
	return arrived
}

// Synced reports whether at least one snapshot was applied.
func (t *Timeline) Synced() bool {
	return t.synced
}

func (t *Timeline) Latest() (domain.Message, bool) {
	if len(t.Messages) == 0 {
		return domain.Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// Unread returns the messages of other participants not marked as read yet.
func (t *Timeline) Unread() []domain.Message {
	return lo.Filter(t.Messages, func(m domain.Message, _ int) bool {
		return !domain.IsSentBy(m, t.Owner) && m.Status != domain.StatusRead
	})
}

// Snapshot returns a copy safe to hand out to readers.
func (t *Timeline) Snapshot() []domain.Message {
	return slices.Clone(t.Messages)
}
