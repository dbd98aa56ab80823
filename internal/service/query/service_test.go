package query

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	nine = model.NewTimeOfDay(9, 0)
	ten  = model.NewTimeOfDay(10, 0)
)

func seeded(t *testing.T) *Service {
	t.Helper()
	store := memrepo.New()
	res := int64(7)
	store.Slots().Seed(
		model.Slot{RoomID: 1, SlotDate: day1, SlotTime: nine, Status: model.StatusAvailable},
		model.Slot{RoomID: 1, SlotDate: day1, SlotTime: ten, Status: model.StatusPending, ReservationID: &res},
		model.Slot{RoomID: 1, SlotDate: day2, SlotTime: nine, Status: model.StatusAvailable},
		model.Slot{RoomID: 2, SlotDate: day1, SlotTime: nine, Status: model.StatusAvailable},
	)
	return New(store.Slots())
}

func TestSlotsByDateRange(t *testing.T) {
	svc := seeded(t)
	ctx := context.Background()

	all, err := svc.SlotsByDateRange(ctx, 1, day1, day2)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := svc.SlotsByDateRange(ctx, 1, day2, day2)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	_, err = svc.SlotsByDateRange(ctx, 1, day2, day1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestAvailableAndByStatus(t *testing.T) {
	svc := seeded(t)
	ctx := context.Background()

	avail, err := svc.AvailableSlots(ctx, 1, day1)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, nine, avail[0].SlotTime)

	pending, err := svc.SlotsByStatus(ctx, 1, day1, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ten, pending[0].SlotTime)

	_, err = svc.SlotsByStatus(ctx, 1, day1, model.SlotStatus("BOOKED"))
	assert.Error(t, err)

	dayAll, err := svc.AllSlotsForDate(ctx, 1, day1)
	require.NoError(t, err)
	assert.Len(t, dayAll, 2)
}

func TestIsSlotAvailable(t *testing.T) {
	svc := seeded(t)
	ctx := context.Background()

	tests := []struct {
		name string
		key  model.SlotKey
		want bool
	}{
		{"available", model.SlotKey{RoomID: 1, Date: day1, Time: nine}, true},
		{"pending", model.SlotKey{RoomID: 1, Date: day1, Time: ten}, false},
		{"missing", model.SlotKey{RoomID: 1, Date: day2, Time: ten}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.IsSlotAvailable(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlot_NotFound(t *testing.T) {
	svc := seeded(t)
	_, err := svc.Slot(context.Background(), model.SlotKey{RoomID: 9, Date: day1, Time: nine})
	assert.ErrorIs(t, err, model.ErrSlotNotFound)
}

func TestCountAvailable(t *testing.T) {
	svc := seeded(t)
	n, err := svc.CountAvailable(context.Background(), 1, day1, day2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
