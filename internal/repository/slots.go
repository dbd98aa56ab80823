package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmoiron/sqlx"
)

// SlotRepository persists room_time_slots. Methods taking a tx use it when it
// is non-nil. The *ForUpdate variants require a tx and lock the rows read.
type SlotRepository interface {
	GetByKey(ctx context.Context, key model.SlotKey) (*model.Slot, error)
	GetByKeyForUpdate(ctx context.Context, tx *sqlx.Tx, key model.SlotKey) (*model.Slot, error)
	ListByReservationForUpdate(ctx context.Context, tx *sqlx.Tx, reservationID int64) ([]model.Slot, error)
	ListPendingForUpdate(ctx context.Context, tx *sqlx.Tx, updatedBefore time.Time) ([]model.Slot, error)
	ListByRoomAndDateRangeForUpdate(ctx context.Context, tx *sqlx.Tx, roomID int64, from, to time.Time) ([]model.Slot, error)

	ListByRoomAndDateRange(ctx context.Context, roomID int64, from, to time.Time) ([]model.Slot, error)
	ListByRoomDateAndStatus(ctx context.Context, roomID int64, date time.Time, status model.SlotStatus) ([]model.Slot, error)
	CountByRoomRangeAndStatus(ctx context.Context, roomID int64, from, to time.Time, status model.SlotStatus) (int64, error)
	ExistingTimes(ctx context.Context, tx *sqlx.Tx, roomID int64, date time.Time) ([]model.TimeOfDay, error)

	InsertBatch(ctx context.Context, tx *sqlx.Tx, slots []model.Slot) (int64, error)
	Update(ctx context.Context, tx *sqlx.Tx, slot model.Slot) error
	UpdateBatch(ctx context.Context, tx *sqlx.Tx, slots []model.Slot) error
	DeleteBefore(ctx context.Context, tx *sqlx.Tx, date time.Time) (int64, error)
	DeleteFutureUnreserved(ctx context.Context, tx *sqlx.Tx, roomID int64, from time.Time) (int64, error)
}

var errTxRequired = errors.New("repository: transaction required")

const slotColumns = `id, room_id, slot_date, slot_time, status, reservation_id, created_at, updated_at`

type SlotRepositoryImpl struct {
	db *sqlx.DB
}

var _ SlotRepository = (*SlotRepositoryImpl)(nil)

func NewSlotRepository(db *sqlx.DB) *SlotRepositoryImpl {
	return &SlotRepositoryImpl{db: db}
}

func (r *SlotRepositoryImpl) getOne(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*model.Slot, error) {
	var s model.Slot
	if err := sqlx.GetContext(ctx, q, &s, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetByKey returns nil when no slot exists for key.
func (r *SlotRepositoryImpl) GetByKey(ctx context.Context, key model.SlotKey) (*model.Slot, error) {
	q := `SELECT ` + slotColumns + ` FROM room_time_slots WHERE room_id = ? AND slot_date = ? AND slot_time = ?`
	return r.getOne(ctx, r.db, q, key.RoomID, model.DateOf(key.Date), key.Time)
}

func (r *SlotRepositoryImpl) GetByKeyForUpdate(ctx context.Context, tx *sqlx.Tx, key model.SlotKey) (*model.Slot, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := `SELECT ` + slotColumns + ` FROM room_time_slots WHERE room_id = ? AND slot_date = ? AND slot_time = ? FOR UPDATE`
	return r.getOne(ctx, tx, q, key.RoomID, model.DateOf(key.Date), key.Time)
}

func (r *SlotRepositoryImpl) ListByReservationForUpdate(ctx context.Context, tx *sqlx.Tx, reservationID int64) ([]model.Slot, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := `SELECT ` + slotColumns + ` FROM room_time_slots
		WHERE reservation_id = ? AND status IN ('PENDING', 'RESERVED')
		ORDER BY slot_date, slot_time
		FOR UPDATE`
	var out []model.Slot
	if err := tx.SelectContext(ctx, &out, q, reservationID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SlotRepositoryImpl) ListPendingForUpdate(ctx context.Context, tx *sqlx.Tx, updatedBefore time.Time) ([]model.Slot, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := `SELECT ` + slotColumns + ` FROM room_time_slots
		WHERE status = 'PENDING' AND updated_at < ?
		ORDER BY updated_at
		FOR UPDATE`
	var out []model.Slot
	if err := tx.SelectContext(ctx, &out, q, updatedBefore); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SlotRepositoryImpl) ListByRoomAndDateRangeForUpdate(ctx context.Context, tx *sqlx.Tx, roomID int64, from, to time.Time) ([]model.Slot, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := `SELECT ` + slotColumns + ` FROM room_time_slots
		WHERE room_id = ? AND slot_date BETWEEN ? AND ?
		ORDER BY slot_date, slot_time
		FOR UPDATE`
	var out []model.Slot
	if err := tx.SelectContext(ctx, &out, q, roomID, model.DateOf(from), model.DateOf(to)); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SlotRepositoryImpl) ListByRoomAndDateRange(ctx context.Context, roomID int64, from, to time.Time) ([]model.Slot, error) {
	q := `SELECT ` + slotColumns + ` FROM room_time_slots
		WHERE room_id = ? AND slot_date BETWEEN ? AND ?
		ORDER BY slot_date, slot_time`
	var out []model.Slot
	if err := r.db.SelectContext(ctx, &out, q, roomID, model.DateOf(from), model.DateOf(to)); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SlotRepositoryImpl) ListByRoomDateAndStatus(ctx context.Context, roomID int64, date time.Time, status model.SlotStatus) ([]model.Slot, error) {
	q := `SELECT ` + slotColumns + ` FROM room_time_slots
		WHERE room_id = ? AND slot_date = ? AND status = ?
		ORDER BY slot_time`
	var out []model.Slot
	if err := r.db.SelectContext(ctx, &out, q, roomID, model.DateOf(date), status.String()); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SlotRepositoryImpl) CountByRoomRangeAndStatus(ctx context.Context, roomID int64, from, to time.Time, status model.SlotStatus) (int64, error) {
	const q = `SELECT COUNT(*) FROM room_time_slots WHERE room_id = ? AND slot_date BETWEEN ? AND ? AND status = ?`
	var n int64
	err := r.db.QueryRowxContext(ctx, q, roomID, model.DateOf(from), model.DateOf(to), status.String()).Scan(&n)
	return n, err
}

func (r *SlotRepositoryImpl) ExistingTimes(ctx context.Context, tx *sqlx.Tx, roomID int64, date time.Time) ([]model.TimeOfDay, error) {
	const q = `SELECT slot_time FROM room_time_slots WHERE room_id = ? AND slot_date = ?`
	var out []model.TimeOfDay
	if err := sqlx.SelectContext(ctx, ext(r.db, tx), &out, q, roomID, model.DateOf(date)); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertBatch inserts slots in one statement. Rows whose natural key already
// exists are ignored; the returned count is the number of rows created.
func (r *SlotRepositoryImpl) InsertBatch(ctx context.Context, tx *sqlx.Tx, slots []model.Slot) (int64, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(slots)*6)
	sb.WriteString(`INSERT IGNORE INTO room_time_slots (room_id, slot_date, slot_time, status, created_at, updated_at) VALUES `)
	for i, s := range slots {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, s.RoomID, model.DateOf(s.SlotDate), s.SlotTime, s.Status.String(), s.CreatedAt, s.UpdatedAt)
	}

	var created int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		created, err = res.RowsAffected()
		return err
	})
	return created, err
}

func (r *SlotRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, slot model.Slot) error {
	return r.UpdateBatch(ctx, tx, []model.Slot{slot})
}

// UpdateBatch writes status, reservation binding and updated_at of each slot.
func (r *SlotRepositoryImpl) UpdateBatch(ctx context.Context, tx *sqlx.Tx, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	const q = `UPDATE room_time_slots SET status = ?, reservation_id = ?, updated_at = ? WHERE id = ?`

	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range slots {
			if s.ID == 0 {
				return fmt.Errorf("update slot %s: missing id", s.Key())
			}
			if _, err := stmt.ExecContext(ctx, s.Status.String(), s.ReservationID, s.UpdatedAt, s.ID); err != nil {
				return fmt.Errorf("update slot %d: %w", s.ID, err)
			}
		}
		return nil
	})
}

func (r *SlotRepositoryImpl) DeleteBefore(ctx context.Context, tx *sqlx.Tx, date time.Time) (int64, error) {
	const q = `DELETE FROM room_time_slots WHERE slot_date < ?`
	res, err := ext(r.db, tx).ExecContext(ctx, q, model.DateOf(date))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteFutureUnreserved removes AVAILABLE and CLOSED slots dated on or after from.
func (r *SlotRepositoryImpl) DeleteFutureUnreserved(ctx context.Context, tx *sqlx.Tx, roomID int64, from time.Time) (int64, error) {
	const q = `DELETE FROM room_time_slots WHERE room_id = ? AND slot_date >= ? AND status IN ('AVAILABLE', 'CLOSED')`
	res, err := ext(r.db, tx).ExecContext(ctx, q, roomID, model.DateOf(from))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
