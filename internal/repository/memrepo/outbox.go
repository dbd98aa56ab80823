package memrepo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmoiron/sqlx"
)

type OutboxRepository struct {
	s *Store
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)

// All returns every entry ordered by creation.
func (r *OutboxRepository) All() []model.OutboxEvent {
	return r.filter(func(model.OutboxEvent) bool { return true })
}

func (r *OutboxRepository) filter(keep func(model.OutboxEvent) bool) []model.OutboxEvent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range r.s.st.outbox {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *OutboxRepository) Insert(_ context.Context, _ *sqlx.Tx, ev *model.OutboxEvent) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("outbox.Insert"); err != nil {
		return 0, err
	}
	r.s.st.nextOutboxID++
	ev.ID = r.s.st.nextOutboxID
	ev.Status = model.OutboxPending
	ev.RetryCount = 0
	ev.UpdatedAt = ev.CreatedAt
	r.s.st.outbox[ev.ID] = *ev
	return ev.ID, nil
}

func (r *OutboxRepository) ListRetryable(_ context.Context, maxRetries, limit int) ([]model.OutboxEvent, error) {
	r.s.mu.Lock()
	err := r.s.fail("outbox.ListRetryable")
	r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := r.filter(func(e model.OutboxEvent) bool {
		return e.Status == model.OutboxPending && e.RetryCount < maxRetries
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepository) ListPendingByIDs(_ context.Context, ids []int64) ([]model.OutboxEvent, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(e model.OutboxEvent) bool {
		return want[e.ID] && e.Status == model.OutboxPending
	}), nil
}

func (r *OutboxRepository) HasOlderPending(_ context.Context, aggregateType, aggregateID string, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("outbox.HasOlderPending"); err != nil {
		return false, err
	}
	for _, e := range r.s.st.outbox {
		if e.ID < id && e.Status == model.OutboxPending &&
			e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			return true, nil
		}
	}
	return false, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("outbox.MarkPublished"); err != nil {
		return err
	}
	e, ok := r.s.st.outbox[id]
	if !ok || e.Status != model.OutboxPending {
		return nil
	}
	e.Status = model.OutboxPublished
	e.PublishedAt = &at
	e.LastError = nil
	e.UpdatedAt = at
	r.s.st.outbox[id] = e
	return nil
}

func (r *OutboxRepository) MarkFailedAttempt(_ context.Context, id int64, errMsg string, maxRetries int, at time.Time) (model.OutboxStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("outbox.MarkFailedAttempt"); err != nil {
		return "", err
	}
	e, ok := r.s.st.outbox[id]
	if !ok {
		return "", fmt.Errorf("outbox entry %d not found", id)
	}
	if e.Status != model.OutboxPending {
		return e.Status, nil
	}
	e.RetryCount++
	e.Status = model.StatusAfterFailure(e.RetryCount, maxRetries)
	e.LastError = &errMsg
	e.UpdatedAt = at
	r.s.st.outbox[id] = e
	return e.Status, nil
}

func (r *OutboxRepository) ListPublishedBefore(_ context.Context, before time.Time, limit int) ([]model.OutboxEvent, error) {
	out := r.filter(func(e model.OutboxEvent) bool {
		return e.Status == model.OutboxPublished && e.PublishedAt != nil && e.PublishedAt.Before(before)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepository) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.st.outbox[id]; ok {
			delete(r.s.st.outbox, id)
			n++
		}
	}
	return n, nil
}

func (r *OutboxRepository) ListByAggregate(_ context.Context, aggregateType, aggregateID string, limit int) ([]model.OutboxEvent, error) {
	out := r.filter(func(e model.OutboxEvent) bool {
		return e.AggregateType == aggregateType && e.AggregateID == aggregateID
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepository) CountByStatus(_ context.Context, status model.OutboxStatus) (int64, error) {
	return int64(len(r.filter(func(e model.OutboxEvent) bool { return e.Status == status }))), nil
}
