// Package memrepo provides in-memory implementations of the repository
// interfaces. Transactions are serialized and rolled back by restoring a
// snapshot taken when they start.
package memrepo

import (
	"context"
	"sync"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmoiron/sqlx"
)

type state struct {
	slots      map[int64]model.Slot
	nextSlotID int64

	outbox       map[int64]model.OutboxEvent
	nextOutboxID int64

	policies map[int64]model.WeeklyPolicy
	requests map[string]model.SlotRequest
	archive  []model.ArchivedEvent
}

func (s *state) clone() state {
	c := state{
		slots:        make(map[int64]model.Slot, len(s.slots)),
		nextSlotID:   s.nextSlotID,
		outbox:       make(map[int64]model.OutboxEvent, len(s.outbox)),
		nextOutboxID: s.nextOutboxID,
		policies:     make(map[int64]model.WeeklyPolicy, len(s.policies)),
		requests:     make(map[string]model.SlotRequest, len(s.requests)),
		archive:      append([]model.ArchivedEvent(nil), s.archive...),
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	return c
}

// Store holds all tables. Use the accessor methods for the typed repositories.
type Store struct {
	txMu sync.Mutex

	mu       sync.Mutex
	st       state
	failures map[string]error
}

var _ repository.TxManager = (*Store)(nil)

func New() *Store {
	return &Store{
		st: state{
			slots:    map[int64]model.Slot{},
			outbox:   map[int64]model.OutboxEvent{},
			policies: map[int64]model.WeeklyPolicy{},
			requests: map[string]model.SlotRequest{},
		},
		failures: map[string]error{},
	}
}

// FailOn makes the named operation (e.g. "slots.UpdateBatch") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	return s.failures[op]
}

// WithTx serializes units of work and restores the pre-transaction state when
// fn returns an error. fn receives a nil *sqlx.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Slots() *SlotRepository { return &SlotRepository{s: s} }
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{s: s} }
func (s *Store) Policies() *PolicyRepository { return &PolicyRepository{s: s} }
func (s *Store) Requests() *RequestRepository { return &RequestRepository{s: s} }
func (s *Store) Archive() *EventArchive { return &EventArchive{s: s} }
