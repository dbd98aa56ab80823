package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmehdipour/room-slots/internal/util"
	"github.com/jmoiron/sqlx"
)

// Writer appends events to the outbox inside the caller's transaction.
type Writer struct {
	repo repository.OutboxRepository
	now  func() time.Time
}

func NewWriter(repo repository.OutboxRepository) *Writer {
	return &Writer{repo: repo, now: time.Now}
}

// WithClock replaces the time source used for created_at and event ids.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Append serializes ev and stores it as a PENDING entry. It returns the
// entry id so the caller can publish it after commit.
func (w *Writer) Append(ctx context.Context, tx *sqlx.Tx, ev model.Event) (int64, error) {
	now := w.now().UTC()
	eventID := util.NewULID(now)

	payload, err := json.Marshal(ev.Message(eventID))
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}

	entry := &model.OutboxEvent{
		EventID:       eventID,
		AggregateType: ev.AggregateType(),
		AggregateID:   ev.AggregateID(),
		EventType:     ev.Type().String(),
		Topic:         ev.Topic(),
		Payload:       payload,
		Status:        model.OutboxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := w.repo.Insert(ctx, tx, entry)
	if err != nil {
		return 0, fmt.Errorf("append %s to outbox: %w", ev.Type(), err)
	}
	return id, nil
}

// AppendAll appends events in order and returns their entry ids.
func (w *Writer) AppendAll(ctx context.Context, tx *sqlx.Tx, events []model.Event) ([]int64, error) {
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		id, err := w.Append(ctx, tx, ev)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
