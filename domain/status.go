package domain

import (
	"chat-core/errors"
	"fmt"
)

// Status is the delivery state of a message: sent -> delivered -> read.
// Delivered exists for completeness; nothing acknowledges delivery
// separately, so messages usually jump from sent to read.
type Status int

const (
	StatusUnknown Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

func (s Status) Valid() bool {
	return s >= StatusSent && s <= StatusRead
}

// Advance applies a forward-only transition.
// It returns the resulting status and whether anything changed.
func (s Status) Advance(next Status) (Status, bool) {
	if !next.Valid() || next <= s {
		return s, false
	}
	return next, true
}

func ParseStatus(str string) (Status, error) {
	switch str {
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	default:
		return StatusUnknown, fmt.Errorf("%w: %q", errors.ErrInvalidStatus, str)
	}
}
