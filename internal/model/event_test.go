package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_TopicsAndTypes(t *testing.T) {
	ref := SlotRef{RoomID: 100, SlotDate: time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), SlotTime: NewTimeOfDay(9, 0)}

	tests := []struct {
		ev    Event
		topic string
		typ   EventType
	}{
		{SlotReserved{SlotRef: ref}, "reservation-reserved", EventSlotReserved},
		{SlotConfirmed{SlotRef: ref}, "reservation-confirmed", EventSlotConfirmed},
		{SlotCancelled{SlotRef: ref}, "reservation-cancelled", EventSlotCancelled},
		{SlotRestored{SlotRef: ref}, "reservation-restored", EventSlotRestored},
		{SlotClosed{SlotRef: ref}, "reservation-closed", EventSlotClosed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.topic, tt.ev.Topic())
		assert.Equal(t, tt.typ, tt.ev.Type())
		assert.Equal(t, AggregateSlot, tt.ev.AggregateType())
		assert.Equal(t, "100/2025-11-05/09:00", tt.ev.AggregateID())
	}
}

func TestEvent_MessageUsesStringIdentifiers(t *testing.T) {
	id := int64(7)
	ev := SlotReserved{
		SlotRef: SlotRef{
			SlotID:     &id,
			RoomID:     100,
			SlotDate:   time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC),
			SlotTime:   NewTimeOfDay(9, 0),
			OccurredAt: time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC),
		},
		ReservationID: 200,
	}

	b, err := json.Marshal(ev.Message("01HZZ"))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"eventId":"01HZZ","eventType":"SlotReserved","slotId":"7","roomId":"100",
		"slotDate":"2025-11-05","slotTime":"09:00","reservationId":"200",
		"occurredAt":"2025-11-05T08:00:00Z"
	}`, string(b))
}

func TestEvent_MessageWithoutSlotID(t *testing.T) {
	ev := SlotCancelled{SlotRef: SlotRef{RoomID: 1, SlotTime: NewTimeOfDay(10, 0)}, ReservationID: 3, CancelReason: "x"}

	b, err := json.Marshal(ev.Message("e"))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Nil(t, out["slotId"])
	assert.Equal(t, "3", out["reservationId"])
	assert.Equal(t, "x", out["cancelReason"])
}

func TestGenerationError_MatchesSentinelAndCarriesDate(t *testing.T) {
	err := &GenerationError{RoomID: 100, Date: time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), Err: ErrPolicyNotFound}

	assert.True(t, errors.Is(err, ErrSlotGenerationFailed))
	assert.True(t, errors.Is(err, ErrPolicyNotFound))
	assert.Contains(t, err.Error(), "2025-11-05")
}

func TestParseReservationID(t *testing.T) {
	id, err := ParseReservationID("200")
	require.NoError(t, err)
	assert.Equal(t, int64(200), id)

	_, err = ParseReservationID("abc")
	assert.ErrorIs(t, err, ErrInvalidReservationID)
	_, err = ParseReservationID("-1")
	assert.ErrorIs(t, err, ErrInvalidReservationID)
}
