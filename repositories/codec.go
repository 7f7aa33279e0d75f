package repositories

import (
	"chat-core/domain"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the stored message record.
const (
	fieldID protowire.Number = iota + 1
	fieldRoom
	fieldSender
	fieldText
	fieldStatus
	fieldSeq
	fieldSentAt
)

// DiskMessage is the stored form of a message, encoded with the protobuf
// wire format so that records stay readable by any protobuf tooling.
type DiskMessage struct {
	ID     uuid.UUID
	Room   string
	Author string
	Text   string
	Status int
	Seq    uint64
	At     time.Time
}

func (m DiskMessage) Marshal() []byte {
	b := make([]byte, 0, 64+len(m.Text))
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.ID[:])
	b = protowire.AppendTag(b, fieldRoom, protowire.BytesType)
	b = protowire.AppendString(b, m.Room)
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendString(b, m.Author)
	b = protowire.AppendTag(b, fieldText, protowire.BytesType)
	b = protowire.AppendString(b, m.Text)
	b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Status))
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Seq)
	b = protowire.AppendTag(b, fieldSentAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.At.UnixNano()))
	return b
}

// UnmarshalDiskMessage decodes a record, skipping unknown fields.
func UnmarshalDiskMessage(b []byte) (DiskMessage, error) {
	var m DiskMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return DiskMessage{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DiskMessage{}, protowire.ParseError(n)
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return DiskMessage{}, fmt.Errorf("invalid message id: %w", err)
			}
			m.ID = id
			b = b[n:]
		case (num == fieldRoom || num == fieldSender || num == fieldText) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return DiskMessage{}, protowire.ParseError(n)
			}
			switch num {
			case fieldRoom:
				m.Room = v
			case fieldSender:
				m.Author = v
			default:
				m.Text = v
			}
			b = b[n:]
		case (num == fieldStatus || num == fieldSeq || num == fieldSentAt) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return DiskMessage{}, protowire.ParseError(n)
			}
			switch num {
			case fieldStatus:
				m.Status = int(v)
			case fieldSeq:
				m.Seq = v
			default:
				m.At = time.Unix(0, int64(v)).UTC()
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return DiskMessage{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func toDiskMessage(message domain.Message) DiskMessage {
	return DiskMessage{
		ID:     message.ID,
		Room:   string(message.RoomID),
		Author: string(message.SenderID),
		Text:   message.Text,
		Status: int(message.Status),
		Seq:    message.Seq,
		At:     message.SentAt,
	}
}

func (m DiskMessage) ToMessage() domain.Message {
	return domain.Message{
		ID:       m.ID,
		RoomID:   domain.RoomID(m.Room),
		SenderID: domain.ParticipantID(m.Author),
		Text:     m.Text,
		Status:   domain.Status(m.Status),
		Seq:      m.Seq,
		SentAt:   m.At,
	}
}
