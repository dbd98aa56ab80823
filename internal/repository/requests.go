package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmoiron/sqlx"
)

// RequestRepository persists slot_requests, the status rows of asynchronous
// generation and closed-date updates.
type RequestRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, req model.SlotRequest) error
	Get(ctx context.Context, id string) (*model.SlotRequest, error)
	UpdateStatus(ctx context.Context, id string, status model.RequestStatus, errMsg *string, at time.Time) error
}

type RequestRepositoryImpl struct {
	db *sqlx.DB
}

var _ RequestRepository = (*RequestRepositoryImpl)(nil)

func NewRequestRepository(db *sqlx.DB) *RequestRepositoryImpl {
	return &RequestRepositoryImpl{db: db}
}

func (r *RequestRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, req model.SlotRequest) error {
	const q = `
		INSERT INTO slot_requests (id, kind, room_id, payload, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ext(r.db, tx).ExecContext(ctx, q,
		req.ID, string(req.Kind), req.RoomID, req.Payload, string(req.Status), req.Error, req.CreatedAt, req.UpdatedAt,
	)
	return err
}

// Get returns nil when the request does not exist.
func (r *RequestRepositoryImpl) Get(ctx context.Context, id string) (*model.SlotRequest, error) {
	var req model.SlotRequest
	err := r.db.GetContext(ctx, &req,
		`SELECT id, kind, room_id, payload, status, error, created_at, updated_at FROM slot_requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepositoryImpl) UpdateStatus(ctx context.Context, id string, status model.RequestStatus, errMsg *string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE slot_requests SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, at, id,
	)
	return err
}
