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

type PolicyRepository struct {
	s *Store
}

var _ repository.PolicyRepository = (*PolicyRepository)(nil)

func (r *PolicyRepository) FindByRoom(_ context.Context, roomID int64) (*model.WeeklyPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("policies.FindByRoom"); err != nil {
		return nil, err
	}
	p, ok := r.s.st.policies[roomID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PolicyRepository) ListAll(_ context.Context) ([]model.WeeklyPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.WeeklyPolicy, 0, len(r.s.st.policies))
	for _, p := range r.s.st.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (r *PolicyRepository) Upsert(_ context.Context, _ *sqlx.Tx, p model.WeeklyPolicy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("policies.Upsert"); err != nil {
		return err
	}
	if cur, ok := r.s.st.policies[p.RoomID]; ok {
		p.ID = cur.ID
	} else if p.ID == 0 {
		p.ID = int64(len(r.s.st.policies) + 1)
	}
	r.s.st.policies[p.RoomID] = p
	return nil
}

func (r *PolicyRepository) UpdateClosedDates(_ context.Context, _ *sqlx.Tx, roomID int64, closed []model.ClosedDate, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.policies[roomID]
	if !ok {
		return fmt.Errorf("room %d: %w", roomID, model.ErrPolicyNotFound)
	}
	p.ClosedDates = append([]model.ClosedDate(nil), closed...)
	p.UpdatedAt = at
	r.s.st.policies[roomID] = p
	return nil
}
