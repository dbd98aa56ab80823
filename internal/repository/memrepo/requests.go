package memrepo

import (
	"context"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmoiron/sqlx"
)

type RequestRepository struct {
	s *Store
}

var _ repository.RequestRepository = (*RequestRepository)(nil)

func (r *RequestRepository) Insert(_ context.Context, _ *sqlx.Tx, req model.SlotRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("requests.Insert"); err != nil {
		return err
	}
	r.s.st.requests[req.ID] = req
	return nil
}

func (r *RequestRepository) Get(_ context.Context, id string) (*model.SlotRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.st.requests[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *RequestRepository) UpdateStatus(_ context.Context, id string, status model.RequestStatus, errMsg *string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.st.requests[id]
	if !ok {
		return nil
	}
	req.Status = status
	req.Error = errMsg
	req.UpdatedAt = at
	r.s.st.requests[id] = req
	return nil
}
