package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)

func newSlot(t *testing.T) Slot {
	t.Helper()
	return NewAvailableSlot(SlotKey{RoomID: 100, Date: time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), Time: NewTimeOfDay(9, 0)}, testNow)
}

func assertReservationBinding(t *testing.T, s Slot) {
	t.Helper()
	assert.True(t, s.Status.Valid())
	bound := s.Status == StatusPending || s.Status == StatusReserved
	assert.Equal(t, bound, s.ReservationID != nil, "reservation binding for status %s", s.Status)
}

func TestSlot_ReserveBindsReservation(t *testing.T) {
	s := newSlot(t)

	ev, err := s.Reserve(200, testNow)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, s.Status)
	require.NotNil(t, s.ReservationID)
	assert.Equal(t, int64(200), *s.ReservationID)
	assert.Nil(t, ev.SlotID, "slot id is unknown before persistence")
	assert.Equal(t, int64(100), ev.RoomID)
	assert.Equal(t, int64(200), ev.ReservationID)
	assertReservationBinding(t, s)
}

func TestSlot_ReserveTwiceLeavesStateUnchanged(t *testing.T) {
	s := newSlot(t)
	_, err := s.Reserve(200, testNow)
	require.NoError(t, err)
	before := s

	_, err = s.Reserve(300, testNow.Add(time.Minute))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusPending, te.From)
	assert.Equal(t, before.Status, s.Status)
	assert.Equal(t, int64(200), *s.ReservationID)
	assert.Equal(t, before.UpdatedAt, s.UpdatedAt)
}

func TestSlot_ReserveRequiresReservationID(t *testing.T) {
	s := newSlot(t)

	_, err := s.Reserve(0, testNow)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusAvailable, s.Status)
	assert.Nil(t, s.ReservationID)
}

func TestSlot_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *Slot)
		apply   func(s *Slot) (Event, error)
		want    SlotStatus
		wantErr bool
	}{
		{
			name:    "confirm pending",
			prepare: func(s *Slot) { _, _ = s.Reserve(1, testNow) },
			apply:   func(s *Slot) (Event, error) { return s.Confirm(testNow) },
			want:    StatusReserved,
		},
		{
			name:    "confirm available fails",
			apply:   func(s *Slot) (Event, error) { return s.Confirm(testNow) },
			want:    StatusAvailable,
			wantErr: true,
		},
		{
			name:    "cancel pending",
			prepare: func(s *Slot) { _, _ = s.Reserve(1, testNow) },
			apply:   func(s *Slot) (Event, error) { return s.Cancel("user", testNow) },
			want:    StatusAvailable,
		},
		{
			name: "cancel reserved",
			prepare: func(s *Slot) {
				_, _ = s.Reserve(1, testNow)
				_, _ = s.Confirm(testNow)
			},
			apply: func(s *Slot) (Event, error) { return s.Cancel("refund", testNow) },
			want:  StatusAvailable,
		},
		{
			name:    "cancel available fails",
			apply:   func(s *Slot) (Event, error) { return s.Cancel("x", testNow) },
			want:    StatusAvailable,
			wantErr: true,
		},
		{
			name:  "close available",
			apply: func(s *Slot) (Event, error) { return s.Close(testNow) },
			want:  StatusClosed,
		},
		{
			name:    "close pending fails",
			prepare: func(s *Slot) { _, _ = s.Reserve(1, testNow) },
			apply:   func(s *Slot) (Event, error) { return s.Close(testNow) },
			want:    StatusPending,
			wantErr: true,
		},
		{
			name:    "reopen closed",
			prepare: func(s *Slot) { _, _ = s.Close(testNow) },
			apply:   func(s *Slot) (Event, error) { return s.Reopen(testNow) },
			want:    StatusAvailable,
		},
		{
			name:    "reserve closed fails",
			prepare: func(s *Slot) { _, _ = s.Close(testNow) },
			apply:   func(s *Slot) (Event, error) { return s.Reserve(5, testNow) },
			want:    StatusClosed,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSlot(t)
			if tt.prepare != nil {
				tt.prepare(&s)
			}

			ev, err := tt.apply(&s)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, ev)
			}
			assert.Equal(t, tt.want, s.Status)
			assertReservationBinding(t, s)
		})
	}
}

func TestSlot_CancelCarriesReasonAndReservation(t *testing.T) {
	s := newSlot(t)
	s.ID = 42
	_, err := s.Reserve(200, testNow)
	require.NoError(t, err)

	ev, err := s.Cancel("User cancelled", testNow)

	require.NoError(t, err)
	assert.Equal(t, "User cancelled", ev.CancelReason)
	assert.Equal(t, int64(200), ev.ReservationID)
	require.NotNil(t, ev.SlotID)
	assert.Equal(t, int64(42), *ev.SlotID)
	assert.Nil(t, s.ReservationID)
}

func TestSlot_ExpireHonoursTimeout(t *testing.T) {
	timeout := 15 * time.Minute

	fresh := newSlot(t)
	_, err := fresh.Reserve(1, testNow)
	require.NoError(t, err)
	_, err = fresh.Expire(testNow.Add(10*time.Minute), timeout)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, fresh.Status)

	stale := newSlot(t)
	_, err = stale.Reserve(1, testNow)
	require.NoError(t, err)
	ev, err := stale.Expire(testNow.Add(20*time.Minute), timeout)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, stale.Status)
	assert.Nil(t, stale.ReservationID)
	assert.Equal(t, RestoreReasonExpired, ev.RestoreReason)
}

func TestSlot_ExpireRejectsReserved(t *testing.T) {
	s := newSlot(t)
	_, _ = s.Reserve(1, testNow)
	_, _ = s.Confirm(testNow)

	_, err := s.Expire(testNow.Add(time.Hour), time.Minute)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusReserved, s.Status)
}

func TestParseSlotStatus(t *testing.T) {
	st, ok := ParseSlotStatus(" pending ")
	assert.True(t, ok)
	assert.Equal(t, StatusPending, st)

	_, ok = ParseSlotStatus("CANCELLED")
	assert.False(t, ok)
}

func TestTimeOfDay_ScanAndValue(t *testing.T) {
	var tod TimeOfDay
	require.NoError(t, tod.Scan([]byte("09:30:00")))
	assert.Equal(t, NewTimeOfDay(9, 30), tod)

	v, err := tod.Value()
	require.NoError(t, err)
	assert.Equal(t, "09:30:00", v)

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
	assert.Error(t, tod.Scan(42))
}
