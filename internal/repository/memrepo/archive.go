package memrepo

import (
	"context"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
)

type EventArchive struct {
	s *Store
}

var _ repository.EventArchive = (*EventArchive)(nil)

func (a *EventArchive) Archive(_ context.Context, events []model.ArchivedEvent) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("archive.Archive"); err != nil {
		return err
	}
	a.s.st.archive = append(a.s.st.archive, events...)
	return nil
}

func (a *EventArchive) ListByAggregate(_ context.Context, aggregateType, aggregateID string, limit, offset int) ([]model.ArchivedEvent, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []model.ArchivedEvent
	for i := len(a.s.st.archive) - 1; i >= 0; i-- {
		e := a.s.st.archive[i]
		if aggregateType != "" && e.AggregateType != aggregateType {
			continue
		}
		if aggregateID != "" && e.AggregateID != aggregateID {
			continue
		}
		out = append(out, e)
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
