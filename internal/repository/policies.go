package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmoiron/sqlx"
)

// PolicyRepository persists room_operating_policies. Weekly slots and closed
// dates are stored as JSON documents.
type PolicyRepository interface {
	FindByRoom(ctx context.Context, roomID int64) (*model.WeeklyPolicy, error)
	ListAll(ctx context.Context) ([]model.WeeklyPolicy, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, p model.WeeklyPolicy) error
	UpdateClosedDates(ctx context.Context, tx *sqlx.Tx, roomID int64, closed []model.ClosedDate, at time.Time) error
}

type policyRow struct {
	ID          int64     `db:"id"`
	RoomID      int64     `db:"room_id"`
	Slots       []byte    `db:"weekly_slots"`
	Recurrence  string    `db:"recurrence"`
	ClosedDates []byte    `db:"closed_dates"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r policyRow) toModel() (model.WeeklyPolicy, error) {
	p := model.WeeklyPolicy{
		ID:         r.ID,
		RoomID:     r.RoomID,
		Recurrence: model.RecurrencePattern(r.Recurrence),
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Slots) > 0 {
		if err := json.Unmarshal(r.Slots, &p.Slots); err != nil {
			return p, fmt.Errorf("room %d weekly slots: %w", r.RoomID, err)
		}
	}
	if len(r.ClosedDates) > 0 {
		if err := json.Unmarshal(r.ClosedDates, &p.ClosedDates); err != nil {
			return p, fmt.Errorf("room %d closed dates: %w", r.RoomID, err)
		}
	}
	return p, nil
}

const policyColumns = `id, room_id, weekly_slots, recurrence, closed_dates, updated_at`

type PolicyRepositoryImpl struct {
	db *sqlx.DB
}

var _ PolicyRepository = (*PolicyRepositoryImpl)(nil)

func NewPolicyRepository(db *sqlx.DB) *PolicyRepositoryImpl {
	return &PolicyRepositoryImpl{db: db}
}

// FindByRoom returns nil when the room has no policy.
func (r *PolicyRepositoryImpl) FindByRoom(ctx context.Context, roomID int64) (*model.WeeklyPolicy, error) {
	var row policyRow
	err := r.db.GetContext(ctx, &row, `SELECT `+policyColumns+` FROM room_operating_policies WHERE room_id = ?`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PolicyRepositoryImpl) ListAll(ctx context.Context) ([]model.WeeklyPolicy, error) {
	var rows []policyRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+policyColumns+` FROM room_operating_policies ORDER BY room_id`); err != nil {
		return nil, err
	}
	out := make([]model.WeeklyPolicy, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *PolicyRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, p model.WeeklyPolicy) error {
	slots, err := json.Marshal(nonNilSlots(p.Slots))
	if err != nil {
		return err
	}
	closed, err := json.Marshal(nonNilClosed(p.ClosedDates))
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO room_operating_policies (room_id, weekly_slots, recurrence, closed_dates, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			weekly_slots = VALUES(weekly_slots),
			recurrence = VALUES(recurrence),
			closed_dates = VALUES(closed_dates),
			updated_at = VALUES(updated_at)
	`
	_, err = ext(r.db, tx).ExecContext(ctx, q, p.RoomID, slots, string(p.Recurrence), closed, p.UpdatedAt)
	return err
}

func (r *PolicyRepositoryImpl) UpdateClosedDates(ctx context.Context, tx *sqlx.Tx, roomID int64, closed []model.ClosedDate, at time.Time) error {
	raw, err := json.Marshal(nonNilClosed(closed))
	if err != nil {
		return err
	}
	res, err := ext(r.db, tx).ExecContext(ctx,
		`UPDATE room_operating_policies SET closed_dates = ?, updated_at = ? WHERE room_id = ?`,
		raw, at, roomID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("room %d: %w", roomID, model.ErrPolicyNotFound)
	}
	return nil
}

func nonNilSlots(s []model.WeeklySlotTime) []model.WeeklySlotTime {
	if s == nil {
		return []model.WeeklySlotTime{}
	}
	return s
}

func nonNilClosed(c []model.ClosedDate) []model.ClosedDate {
	if c == nil {
		return []model.ClosedDate{}
	}
	return c
}
