package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSlotNotFound         = errors.New("slot not found")
	ErrInvalidTransition    = errors.New("invalid slot transition")
	ErrPolicyNotFound       = errors.New("operating policy not found")
	ErrSlotGenerationFailed = errors.New("slot generation failed")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrMalformedEvent       = errors.New("malformed event")
	ErrInvalidReservationID = errors.New("invalid reservation id")
	ErrRequestNotFound      = errors.New("slot request not found")
	ErrInvalidInput         = errors.New("invalid input")
)

// TransitionError describes a rejected state machine action. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	Key    SlotKey
	From   SlotStatus
	Action string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: cannot %s slot %s in status %s", ErrInvalidTransition, e.Action, e.Key, e.From)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// GenerationError wraps any failure raised while generating slots for a room.
// Date is zero for failures that are not bound to a single day.
type GenerationError struct {
	RoomID int64
	Date   time.Time
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("%s: room=%d: %v", ErrSlotGenerationFailed, e.RoomID, e.Err)
	}
	return fmt.Sprintf("%s: room=%d date=%s: %v", ErrSlotGenerationFailed, e.RoomID, FormatDate(e.Date), e.Err)
}

func (e *GenerationError) Is(target error) bool { return target == ErrSlotGenerationFailed }

func (e *GenerationError) Unwrap() error { return e.Err }
