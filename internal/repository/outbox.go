package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Insert writes a single outbox entry inside tx. The entry commits or
	// rolls back together with the state change that produced it.
	Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) (int64, error)

	ListRetryable(ctx context.Context, maxRetries, limit int) ([]model.OutboxEvent, error)
	ListPendingByIDs(ctx context.Context, ids []int64) ([]model.OutboxEvent, error)
	// HasOlderPending reports whether the aggregate has a PENDING entry
	// inserted before entry id.
	HasOlderPending(ctx context.Context, aggregateType, aggregateID string, id int64) (bool, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	MarkFailedAttempt(ctx context.Context, id int64, errMsg string, maxRetries int, at time.Time) (model.OutboxStatus, error)

	ListPublishedBefore(ctx context.Context, before time.Time, limit int) ([]model.OutboxEvent, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string, limit int) ([]model.OutboxEvent, error)
	CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error)
}

const outboxColumns = `id, event_id, aggregate_type, aggregate_id, event_type, topic, payload,
	status, retry_count, last_error, created_at, published_at, updated_at`

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	const q = `
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, topic, payload,
			status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	res, err := tx.ExecContext(ctx, q,
		ev.EventID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Topic, ev.Payload,
		model.OutboxPending.String(), ev.CreatedAt, ev.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	ev.ID = id
	return id, nil
}

// ListRetryable returns PENDING entries below the retry limit, oldest first.
func (r *OutboxRepositoryImpl) ListRetryable(ctx context.Context, maxRetries, limit int) ([]model.OutboxEvent, error) {
	q := `SELECT ` + outboxColumns + ` FROM outbox
		WHERE status = 'PENDING' AND retry_count < ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`
	var out []model.OutboxEvent
	if err := r.db.SelectContext(ctx, &out, q, maxRetries, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OutboxRepositoryImpl) ListPendingByIDs(ctx context.Context, ids []int64) ([]model.OutboxEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT `+outboxColumns+` FROM outbox
		WHERE status = 'PENDING' AND id IN (?)
		ORDER BY created_at ASC, id ASC`, ids)
	if err != nil {
		return nil, err
	}
	var out []model.OutboxEvent
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OutboxRepositoryImpl) HasOlderPending(ctx context.Context, aggregateType, aggregateID string, id int64) (bool, error) {
	const q = `SELECT EXISTS(
		SELECT 1 FROM outbox
		WHERE aggregate_type = ? AND aggregate_id = ? AND status = 'PENDING' AND id < ?
	)`
	var found bool
	if err := r.db.QueryRowxContext(ctx, q, aggregateType, aggregateID, id).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

// MarkPublished is a no-op for entries that are no longer PENDING.
func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE outbox SET status = 'PUBLISHED', published_at = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`
	_, err := r.db.ExecContext(ctx, q, at, at, id)
	return err
}

// MarkFailedAttempt increments retry_count and records errMsg. The entry
// becomes FAILED once the incremented count reaches maxRetries.
func (r *OutboxRepositoryImpl) MarkFailedAttempt(ctx context.Context, id int64, errMsg string, maxRetries int, at time.Time) (model.OutboxStatus, error) {
	var status model.OutboxStatus
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var cur struct {
			Status     model.OutboxStatus `db:"status"`
			RetryCount int                `db:"retry_count"`
		}
		err := tx.GetContext(ctx, &cur, `SELECT status, retry_count FROM outbox WHERE id = ? FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("outbox entry %d not found", id)
		}
		if err != nil {
			return err
		}
		if cur.Status != model.OutboxPending {
			status = cur.Status
			return nil
		}

		next := cur.RetryCount + 1
		status = model.StatusAfterFailure(next, maxRetries)
		_, err = tx.ExecContext(ctx,
			`UPDATE outbox SET status = ?, retry_count = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			status.String(), next, errMsg, at, id,
		)
		return err
	})
	return status, err
}

func (r *OutboxRepositoryImpl) ListPublishedBefore(ctx context.Context, before time.Time, limit int) ([]model.OutboxEvent, error) {
	q := `SELECT ` + outboxColumns + ` FROM outbox
		WHERE status = 'PUBLISHED' AND published_at < ?
		ORDER BY published_at ASC
		LIMIT ?`
	var out []model.OutboxEvent
	if err := r.db.SelectContext(ctx, &out, q, before, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OutboxRepositoryImpl) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(`DELETE FROM outbox WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *OutboxRepositoryImpl) ListByAggregate(ctx context.Context, aggregateType, aggregateID string, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	q := `SELECT ` + outboxColumns + ` FROM outbox
		WHERE aggregate_type = ? AND aggregate_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	var out []model.OutboxEvent
	if err := r.db.SelectContext(ctx, &out, q, aggregateType, aggregateID, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OutboxRepositoryImpl) CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error) {
	var n int64
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM outbox WHERE status = ?`, status.String()).Scan(&n)
	return n, err
}
