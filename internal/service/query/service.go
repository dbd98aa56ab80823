// Package query serves read-only slot lookups.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
)

type Service struct {
	slots repository.SlotRepository
}

func New(slots repository.SlotRepository) *Service {
	return &Service{slots: slots}
}

// SlotsByDateRange returns every slot of roomID with from <= date <= to.
func (s *Service) SlotsByDateRange(ctx context.Context, roomID int64, from, to time.Time) ([]model.Slot, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.slots.ListByRoomAndDateRange(ctx, roomID, model.DateOf(from), model.DateOf(to))
}

func (s *Service) AvailableSlots(ctx context.Context, roomID int64, date time.Time) ([]model.Slot, error) {
	return s.SlotsByStatus(ctx, roomID, date, model.StatusAvailable)
}

func (s *Service) SlotsByStatus(ctx context.Context, roomID int64, date time.Time, status model.SlotStatus) ([]model.Slot, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid slot status %q", status)
	}
	return s.slots.ListByRoomDateAndStatus(ctx, roomID, model.DateOf(date), status)
}

func (s *Service) AllSlotsForDate(ctx context.Context, roomID int64, date time.Time) ([]model.Slot, error) {
	d := model.DateOf(date)
	return s.slots.ListByRoomAndDateRange(ctx, roomID, d, d)
}

// IsSlotAvailable is false for a slot that does not exist.
func (s *Service) IsSlotAvailable(ctx context.Context, key model.SlotKey) (bool, error) {
	slot, err := s.slots.GetByKey(ctx, key)
	if err != nil {
		return false, err
	}
	return slot != nil && slot.Status == model.StatusAvailable, nil
}

// Slot returns the slot at key or an error matching model.ErrSlotNotFound.
func (s *Service) Slot(ctx context.Context, key model.SlotKey) (*model.Slot, error) {
	slot, err := s.slots.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrSlotNotFound, key)
	}
	return slot, nil
}

func (s *Service) CountAvailable(ctx context.Context, roomID int64, from, to time.Time) (int64, error) {
	if err := checkRange(from, to); err != nil {
		return 0, err
	}
	return s.slots.CountByRoomRangeAndStatus(ctx, roomID, model.DateOf(from), model.DateOf(to), model.StatusAvailable)
}

func checkRange(from, to time.Time) error {
	if model.DateOf(to).Before(model.DateOf(from)) {
		return fmt.Errorf("%w: end date %s before start date %s",
			model.ErrInvalidInput, model.FormatDate(to), model.FormatDate(from))
	}
	return nil
}
