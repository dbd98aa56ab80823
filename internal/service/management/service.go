// Package management applies slot state transitions. Each operation is one
// transaction that locks the affected rows, persists the new state and
// appends one outbox entry per transition. Entries are handed to the
// publisher only after commit.
package management

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/metrics"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/outbox"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// EventWriter appends events to the outbox within tx.
type EventWriter interface {
	Append(ctx context.Context, tx *sqlx.Tx, ev model.Event) (int64, error)
	AppendAll(ctx context.Context, tx *sqlx.Tx, events []model.Event) ([]int64, error)
}

// PostCommitPublisher publishes freshly committed outbox entries.
type PostCommitPublisher interface {
	PublishByIDs(ctx context.Context, ids []int64) outbox.Result
}

const DefaultPendingTimeout = 15 * time.Minute

type Service struct {
	tx             repository.TxManager
	slots          repository.SlotRepository
	writer         EventWriter
	publisher      PostCommitPublisher // optional
	pendingTimeout time.Duration
	log            *zap.Logger
	now            func() time.Time
}

func New(
	tx repository.TxManager,
	slots repository.SlotRepository,
	writer EventWriter,
	publisher PostCommitPublisher,
	pendingTimeout time.Duration,
	log *zap.Logger,
) *Service {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	return &Service{
		tx:             tx,
		slots:          slots,
		writer:         writer,
		publisher:      publisher,
		pendingTimeout: pendingTimeout,
		log:            logger.Or(log).Named("management"),
		now:            time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// transition mutates slot in place and returns the event describing it.
type transition func(slot *model.Slot, now time.Time) (model.Event, error)

// MarkPending binds an AVAILABLE slot to reservationID.
func (s *Service) MarkPending(ctx context.Context, key model.SlotKey, reservationID int64) (*model.Slot, error) {
	return s.applyOne(ctx, key, "reserve", func(sl *model.Slot, now time.Time) (model.Event, error) {
		return event(sl.Reserve(reservationID, now))
	})
}

func (s *Service) Confirm(ctx context.Context, key model.SlotKey) (*model.Slot, error) {
	return s.applyOne(ctx, key, "confirm", func(sl *model.Slot, now time.Time) (model.Event, error) {
		return event(sl.Confirm(now))
	})
}

func (s *Service) Cancel(ctx context.Context, key model.SlotKey, reason string) (*model.Slot, error) {
	return s.applyOne(ctx, key, "cancel", func(sl *model.Slot, now time.Time) (model.Event, error) {
		return event(sl.Cancel(reason, now))
	})
}

func (s *Service) Close(ctx context.Context, key model.SlotKey) (*model.Slot, error) {
	return s.applyOne(ctx, key, "close", func(sl *model.Slot, now time.Time) (model.Event, error) {
		return event(sl.Close(now))
	})
}

func (s *Service) Reopen(ctx context.Context, key model.SlotKey) (*model.Slot, error) {
	return s.applyOne(ctx, key, "reopen", func(sl *model.Slot, now time.Time) (model.Event, error) {
		return event(sl.Reopen(now))
	})
}

// CancelAllByReservation releases every PENDING or RESERVED slot bound to
// reservationID and returns how many were released.
func (s *Service) CancelAllByReservation(ctx context.Context, reservationID int64, reason string) (int, error) {
	load := func(ctx context.Context, tx *sqlx.Tx) ([]model.Slot, error) {
		return s.slots.ListByReservationForUpdate(ctx, tx, reservationID)
	}
	n, err := s.applyMany(ctx, "cancel", load, func(sl *model.Slot, now time.Time) (model.Event, bool, error) {
		if sl.ReservationID == nil || *sl.ReservationID != reservationID {
			return nil, false, nil
		}
		ev, err := event(sl.Cancel(reason, now))
		return ev, true, err
	})
	if err != nil {
		return 0, fmt.Errorf("cancel reservation %d: %w", reservationID, err)
	}
	return n, nil
}

// ConfirmAllByReservation confirms the PENDING slots bound to reservationID.
// Slots already RESERVED are skipped, so a redelivered payment event is a
// no-op.
func (s *Service) ConfirmAllByReservation(ctx context.Context, reservationID int64) (int, error) {
	load := func(ctx context.Context, tx *sqlx.Tx) ([]model.Slot, error) {
		return s.slots.ListByReservationForUpdate(ctx, tx, reservationID)
	}
	n, err := s.applyMany(ctx, "confirm", load, func(sl *model.Slot, now time.Time) (model.Event, bool, error) {
		if sl.Status != model.StatusPending || sl.ReservationID == nil || *sl.ReservationID != reservationID {
			return nil, false, nil
		}
		ev, err := event(sl.Confirm(now))
		return ev, true, err
	})
	if err != nil {
		return 0, fmt.Errorf("confirm reservation %d: %w", reservationID, err)
	}
	return n, nil
}

// RestoreExpiredPending returns PENDING slots older than the pending timeout
// to AVAILABLE.
func (s *Service) RestoreExpiredPending(ctx context.Context) (int, error) {
	load := func(ctx context.Context, tx *sqlx.Tx) ([]model.Slot, error) {
		return s.slots.ListPendingForUpdate(ctx, tx, s.now().UTC().Add(-s.pendingTimeout))
	}
	n, err := s.applyMany(ctx, "expire", load, func(sl *model.Slot, now time.Time) (model.Event, bool, error) {
		if !sl.Expired(now, s.pendingTimeout) {
			return nil, false, nil
		}
		ev, err := event(sl.Expire(now, s.pendingTimeout))
		return ev, true, err
	})
	if err != nil {
		return 0, fmt.Errorf("restore expired pending slots: %w", err)
	}
	if n > 0 {
		s.log.Info("expired pending slots restored", zap.Int("count", n))
	}
	return n, nil
}

type ClosedDatesResult struct {
	Closed   int `json:"closed"`
	Reopened int `json:"reopened"`
}

// ApplyClosedDates closes AVAILABLE slots in [from, to] covered by closed and
// reopens CLOSED slots no longer covered. PENDING and RESERVED slots are not
// touched. before, when set, runs first in the same transaction.
func (s *Service) ApplyClosedDates(
	ctx context.Context,
	roomID int64,
	closed []model.ClosedDate,
	from, to time.Time,
	before func(ctx context.Context, tx *sqlx.Tx) error,
) (ClosedDatesResult, error) {
	var res ClosedDatesResult
	covered := func(sl *model.Slot) bool {
		for _, c := range closed {
			if c.Covers(sl.SlotDate, sl.SlotTime) {
				return true
			}
		}
		return false
	}

	var ids []int64
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		res = ClosedDatesResult{}
		ids = ids[:0]
		if before != nil {
			if err := before(ctx, tx); err != nil {
				return err
			}
		}
		slots, err := s.slots.ListByRoomAndDateRangeForUpdate(ctx, tx, roomID, from, to)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		changed := make([]model.Slot, 0, len(slots))
		events := make([]model.Event, 0, len(slots))
		for i := range slots {
			sl := &slots[i]
			var ev model.Event
			switch {
			case sl.Status == model.StatusAvailable && covered(sl):
				ev, err = event(sl.Close(now))
				res.Closed++
			case sl.Status == model.StatusClosed && !covered(sl):
				ev, err = event(sl.Reopen(now))
				res.Reopened++
			default:
				continue
			}
			if err != nil {
				return err
			}
			changed = append(changed, *sl)
			events = append(events, ev)
		}

		if err := s.slots.UpdateBatch(ctx, tx, changed); err != nil {
			return err
		}
		ids, err = s.writer.AppendAll(ctx, tx, events)
		return err
	})
	if err != nil {
		return ClosedDatesResult{}, fmt.Errorf("apply closed dates to room %d: %w", roomID, err)
	}

	metrics.SlotTransitionsTotal.WithLabelValues("close").Add(float64(res.Closed))
	metrics.SlotTransitionsTotal.WithLabelValues("reopen").Add(float64(res.Reopened))
	s.publish(ctx, ids)
	return res, nil
}

func (s *Service) applyOne(ctx context.Context, key model.SlotKey, action string, apply transition) (*model.Slot, error) {
	var out model.Slot
	var id int64
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		slot, err := s.slots.GetByKeyForUpdate(ctx, tx, key)
		if err != nil {
			return err
		}
		if slot == nil {
			return fmt.Errorf("%w: %s", model.ErrSlotNotFound, key)
		}

		ev, err := apply(slot, s.now().UTC())
		if err != nil {
			return err
		}
		if err := s.slots.Update(ctx, tx, *slot); err != nil {
			return err
		}
		id, err = s.writer.Append(ctx, tx, ev)
		if err != nil {
			return err
		}
		out = *slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SlotTransitionsTotal.WithLabelValues(action).Inc()
	s.log.Debug("slot transition committed",
		zap.String("transition", action),
		zap.Int64("room_id", key.RoomID),
		zap.String("slot_date", model.FormatDate(key.Date)),
		zap.String("slot_time", key.Time.String()),
	)
	s.publish(ctx, []int64{id})
	return &out, nil
}

type loader func(ctx context.Context, tx *sqlx.Tx) ([]model.Slot, error)

// fanout mutates slot and reports whether it applies to the operation.
type fanout func(slot *model.Slot, now time.Time) (model.Event, bool, error)

func (s *Service) applyMany(ctx context.Context, action string, load loader, apply fanout) (int, error) {
	var ids []int64
	var count int
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		slots, err := load(ctx, tx)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		changed := make([]model.Slot, 0, len(slots))
		events := make([]model.Event, 0, len(slots))
		for i := range slots {
			ev, ok, err := apply(&slots[i], now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			changed = append(changed, slots[i])
			events = append(events, ev)
		}
		if len(changed) == 0 {
			count, ids = 0, nil
			return nil
		}

		if err := s.slots.UpdateBatch(ctx, tx, changed); err != nil {
			return err
		}
		ids, err = s.writer.AppendAll(ctx, tx, events)
		count = len(changed)
		return err
	})
	if err != nil {
		return 0, err
	}

	metrics.SlotTransitionsTotal.WithLabelValues(action).Add(float64(count))
	s.publish(ctx, ids)
	return count, nil
}

func (s *Service) publish(ctx context.Context, ids []int64) {
	if s.publisher == nil || len(ids) == 0 {
		return
	}
	res := s.publisher.PublishByIDs(ctx, ids)
	if res.Published < len(ids) {
		s.log.Debug("immediate publish incomplete, left for drain",
			zap.Int("entries", len(ids)), zap.Int("published", res.Published))
	}
}

// event lifts a concrete event result into the Event interface, keeping a
// nil interface on error.
func event[E model.Event](ev E, err error) (model.Event, error) {
	if err != nil {
		return nil, err
	}
	return ev, nil
}
