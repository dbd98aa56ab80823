package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmoiron/sqlx"
)

type SlotRepository struct {
	s *Store
}

var _ repository.SlotRepository = (*SlotRepository)(nil)

// Seed stores slots as-is, assigning ids to those without one.
func (r *SlotRepository) Seed(slots ...model.Slot) []model.Slot {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Slot, 0, len(slots))
	for _, sl := range slots {
		if sl.ID == 0 {
			r.s.st.nextSlotID++
			sl.ID = r.s.st.nextSlotID
		} else if sl.ID > r.s.st.nextSlotID {
			r.s.st.nextSlotID = sl.ID
		}
		sl.SlotDate = model.DateOf(sl.SlotDate)
		r.s.st.slots[sl.ID] = sl
		out = append(out, sl)
	}
	return out
}

// All returns every slot ordered by room, date and time.
func (r *SlotRepository) All() []model.Slot {
	return r.filter(func(model.Slot) bool { return true })
}

func (r *SlotRepository) filter(keep func(model.Slot) bool) []model.Slot {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Slot
	for _, sl := range r.s.st.slots {
		if keep(sl) {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		if !a.SlotDate.Equal(b.SlotDate) {
			return a.SlotDate.Before(b.SlotDate)
		}
		return a.SlotTime < b.SlotTime
	})
	return out
}

func inRange(d, from, to time.Time) bool {
	d = model.DateOf(d)
	return !d.Before(model.DateOf(from)) && !d.After(model.DateOf(to))
}

func (r *SlotRepository) GetByKey(_ context.Context, key model.SlotKey) (*model.Slot, error) {
	r.s.mu.Lock()
	if err := r.s.fail("slots.GetByKey"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	r.s.mu.Unlock()

	date := model.DateOf(key.Date)
	found := r.filter(func(sl model.Slot) bool {
		return sl.RoomID == key.RoomID && sl.SlotDate.Equal(date) && sl.SlotTime == key.Time
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (r *SlotRepository) GetByKeyForUpdate(ctx context.Context, _ *sqlx.Tx, key model.SlotKey) (*model.Slot, error) {
	return r.GetByKey(ctx, key)
}

func (r *SlotRepository) ListByReservationForUpdate(_ context.Context, _ *sqlx.Tx, reservationID int64) ([]model.Slot, error) {
	return r.filter(func(sl model.Slot) bool {
		return sl.ReservationID != nil && *sl.ReservationID == reservationID &&
			(sl.Status == model.StatusPending || sl.Status == model.StatusReserved)
	}), nil
}

func (r *SlotRepository) ListPendingForUpdate(_ context.Context, _ *sqlx.Tx, updatedBefore time.Time) ([]model.Slot, error) {
	return r.filter(func(sl model.Slot) bool {
		return sl.Status == model.StatusPending && sl.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (r *SlotRepository) ListByRoomAndDateRangeForUpdate(ctx context.Context, _ *sqlx.Tx, roomID int64, from, to time.Time) ([]model.Slot, error) {
	return r.ListByRoomAndDateRange(ctx, roomID, from, to)
}

func (r *SlotRepository) ListByRoomAndDateRange(_ context.Context, roomID int64, from, to time.Time) ([]model.Slot, error) {
	return r.filter(func(sl model.Slot) bool {
		return sl.RoomID == roomID && inRange(sl.SlotDate, from, to)
	}), nil
}

func (r *SlotRepository) ListByRoomDateAndStatus(_ context.Context, roomID int64, date time.Time, status model.SlotStatus) ([]model.Slot, error) {
	date = model.DateOf(date)
	return r.filter(func(sl model.Slot) bool {
		return sl.RoomID == roomID && sl.SlotDate.Equal(date) && sl.Status == status
	}), nil
}

func (r *SlotRepository) CountByRoomRangeAndStatus(_ context.Context, roomID int64, from, to time.Time, status model.SlotStatus) (int64, error) {
	n := len(r.filter(func(sl model.Slot) bool {
		return sl.RoomID == roomID && inRange(sl.SlotDate, from, to) && sl.Status == status
	}))
	return int64(n), nil
}

func (r *SlotRepository) ExistingTimes(_ context.Context, _ *sqlx.Tx, roomID int64, date time.Time) ([]model.TimeOfDay, error) {
	date = model.DateOf(date)
	var out []model.TimeOfDay
	for _, sl := range r.filter(func(sl model.Slot) bool { return sl.RoomID == roomID && sl.SlotDate.Equal(date) }) {
		out = append(out, sl.SlotTime)
	}
	return out, nil
}

// InsertBatch ignores slots whose natural key already exists.
func (r *SlotRepository) InsertBatch(_ context.Context, _ *sqlx.Tx, slots []model.Slot) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("slots.InsertBatch"); err != nil {
		return 0, err
	}

	existing := make(map[model.SlotKey]struct{}, len(r.s.st.slots))
	for _, sl := range r.s.st.slots {
		existing[sl.Key()] = struct{}{}
	}

	var created int64
	for _, sl := range slots {
		sl.SlotDate = model.DateOf(sl.SlotDate)
		if _, dup := existing[sl.Key()]; dup {
			continue
		}
		r.s.st.nextSlotID++
		sl.ID = r.s.st.nextSlotID
		r.s.st.slots[sl.ID] = sl
		existing[sl.Key()] = struct{}{}
		created++
	}
	return created, nil
}

func (r *SlotRepository) Update(ctx context.Context, tx *sqlx.Tx, slot model.Slot) error {
	return r.UpdateBatch(ctx, tx, []model.Slot{slot})
}

func (r *SlotRepository) UpdateBatch(_ context.Context, _ *sqlx.Tx, slots []model.Slot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("slots.UpdateBatch"); err != nil {
		return err
	}
	for _, sl := range slots {
		cur, ok := r.s.st.slots[sl.ID]
		if !ok {
			continue
		}
		cur.Status = sl.Status
		cur.ReservationID = sl.ReservationID
		cur.UpdatedAt = sl.UpdatedAt
		r.s.st.slots[sl.ID] = cur
	}
	return nil
}

func (r *SlotRepository) DeleteBefore(_ context.Context, _ *sqlx.Tx, date time.Time) (int64, error) {
	date = model.DateOf(date)
	return r.delete(func(sl model.Slot) bool { return sl.SlotDate.Before(date) }), nil
}

func (r *SlotRepository) DeleteFutureUnreserved(_ context.Context, _ *sqlx.Tx, roomID int64, from time.Time) (int64, error) {
	r.s.mu.Lock()
	err := r.s.fail("slots.DeleteFutureUnreserved")
	r.s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	from = model.DateOf(from)
	return r.delete(func(sl model.Slot) bool {
		return sl.RoomID == roomID && !sl.SlotDate.Before(from) &&
			(sl.Status == model.StatusAvailable || sl.Status == model.StatusClosed)
	}), nil
}

func (r *SlotRepository) delete(match func(model.Slot) bool) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sl := range r.s.st.slots {
		if match(sl) {
			delete(r.s.st.slots, id)
			n++
		}
	}
	return n
}
