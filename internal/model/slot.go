package model

import (
	"fmt"
	"strings"
	"time"
)

type SlotStatus string

const (
	StatusAvailable SlotStatus = "AVAILABLE"
	StatusPending   SlotStatus = "PENDING"
	StatusReserved  SlotStatus = "RESERVED"
	StatusClosed    SlotStatus = "CLOSED"
)

func (s SlotStatus) String() string { return string(s) }

func (s SlotStatus) Valid() bool {
	return s == StatusAvailable || s == StatusPending || s == StatusReserved || s == StatusClosed
}

// ParseSlotStatus normalizes input; returns (value, true) if valid.
func ParseSlotStatus(raw string) (SlotStatus, bool) {
	s := SlotStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Restore reasons carried by SlotRestored.
const (
	RestoreReasonExpired  = "EXPIRED"
	RestoreReasonReopened = "REOPENED"
)

// SlotKey is the natural key of a slot.
type SlotKey struct {
	RoomID int64
	Date   time.Time
	Time   TimeOfDay
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.RoomID, FormatDate(k.Date), k.Time)
}

// Slot is the DB entity persisted in room_time_slots.
type Slot struct {
	ID            int64      `db:"id"`
	RoomID        int64      `db:"room_id"`
	SlotDate      time.Time  `db:"slot_date"`
	SlotTime      TimeOfDay  `db:"slot_time"`
	Status        SlotStatus `db:"status"`
	ReservationID *int64     `db:"reservation_id"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// NewAvailableSlot builds a not yet persisted AVAILABLE slot.
func NewAvailableSlot(key SlotKey, now time.Time) Slot {
	return Slot{
		RoomID:    key.RoomID,
		SlotDate:  DateOf(key.Date),
		SlotTime:  key.Time,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Slot) Key() SlotKey {
	return SlotKey{RoomID: s.RoomID, Date: s.SlotDate, Time: s.SlotTime}
}

// Reserve moves AVAILABLE -> PENDING and binds the reservation.
func (s *Slot) Reserve(reservationID int64, now time.Time) (SlotReserved, error) {
	if s.Status != StatusAvailable {
		return SlotReserved{}, s.reject("reserve", "")
	}
	if reservationID <= 0 {
		return SlotReserved{}, s.reject("reserve", "reservation id required")
	}
	s.Status = StatusPending
	s.ReservationID = &reservationID
	s.UpdatedAt = now

	return SlotReserved{SlotRef: s.ref(now), ReservationID: reservationID}, nil
}

// Confirm moves PENDING -> RESERVED.
func (s *Slot) Confirm(now time.Time) (SlotConfirmed, error) {
	if s.Status != StatusPending {
		return SlotConfirmed{}, s.reject("confirm", "")
	}
	s.Status = StatusReserved
	s.UpdatedAt = now

	return SlotConfirmed{SlotRef: s.ref(now), ReservationID: s.reservation()}, nil
}

// Cancel releases a PENDING or RESERVED slot back to AVAILABLE.
func (s *Slot) Cancel(reason string, now time.Time) (SlotCancelled, error) {
	if s.Status != StatusPending && s.Status != StatusReserved {
		return SlotCancelled{}, s.reject("cancel", "")
	}
	reservationID := s.reservation()
	s.Status = StatusAvailable
	s.ReservationID = nil
	s.UpdatedAt = now

	return SlotCancelled{SlotRef: s.ref(now), ReservationID: reservationID, CancelReason: reason}, nil
}

// Expired reports whether a PENDING hold is older than timeout.
func (s *Slot) Expired(now time.Time, timeout time.Duration) bool {
	return s.Status == StatusPending && now.Sub(s.UpdatedAt) > timeout
}

// Expire restores a stale PENDING hold to AVAILABLE.
func (s *Slot) Expire(now time.Time, timeout time.Duration) (SlotRestored, error) {
	if s.Status != StatusPending {
		return SlotRestored{}, s.reject("expire", "")
	}
	if !s.Expired(now, timeout) {
		return SlotRestored{}, s.reject("expire", "pending timeout not reached")
	}
	s.Status = StatusAvailable
	s.ReservationID = nil
	s.UpdatedAt = now

	return SlotRestored{SlotRef: s.ref(now), RestoreReason: RestoreReasonExpired}, nil
}

// Close takes an AVAILABLE slot out of operation.
func (s *Slot) Close(now time.Time) (SlotClosed, error) {
	if s.Status != StatusAvailable || s.ReservationID != nil {
		return SlotClosed{}, s.reject("close", "")
	}
	s.Status = StatusClosed
	s.UpdatedAt = now

	return SlotClosed{SlotRef: s.ref(now)}, nil
}

// Reopen returns a CLOSED slot to AVAILABLE.
func (s *Slot) Reopen(now time.Time) (SlotRestored, error) {
	if s.Status != StatusClosed {
		return SlotRestored{}, s.reject("reopen", "")
	}
	s.Status = StatusAvailable
	s.UpdatedAt = now

	return SlotRestored{SlotRef: s.ref(now), RestoreReason: RestoreReasonReopened}, nil
}

func (s *Slot) reservation() int64 {
	if s.ReservationID == nil {
		return 0
	}
	return *s.ReservationID
}

func (s *Slot) ref(now time.Time) SlotRef {
	ref := SlotRef{
		RoomID:     s.RoomID,
		SlotDate:   s.SlotDate,
		SlotTime:   s.SlotTime,
		OccurredAt: now,
	}
	if s.ID != 0 {
		id := s.ID
		ref.SlotID = &id
	}
	return ref
}

func (s *Slot) reject(action, reason string) error {
	return &TransitionError{Key: s.Key(), From: s.Status, Action: action, Reason: reason}
}
