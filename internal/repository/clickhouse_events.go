package repository

import (
	"context"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventArchive stores published outbox entries in ClickHouse for reporting.
type EventArchive interface {
	Archive(ctx context.Context, events []model.ArchivedEvent) error
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]model.ArchivedEvent, error)
}

type chEventArchive struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewEventArchive(ch *sqlx.DB) EventArchive {
	return &chEventArchive{ch: ch}
}

// Archive appends events in one batch.
func (r *chEventArchive) Archive(ctx context.Context, events []model.ArchivedEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO roomslots.outbox_events
			(event_id, aggregate_type, aggregate_id, event_type, topic, payload, created_at, published_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.AggregateType, e.AggregateID, e.EventType, e.Topic, e.Payload, e.CreatedAt, e.PublishedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *chEventArchive) ListByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]model.ArchivedEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT event_id, aggregate_type, aggregate_id, event_type, topic, payload, created_at, published_at
		FROM roomslots.outbox_events
		WHERE 1 = 1
	`
	var args []any
	if aggregateType != "" {
		q += " AND aggregate_type = ?"
		args = append(args, aggregateType)
	}
	if aggregateID != "" {
		q += " AND aggregate_id = ?"
		args = append(args, aggregateID)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.ArchivedEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
