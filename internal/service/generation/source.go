package generation

import (
	"context"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
)

// PolicySource supplies the read-only inputs of generation.
type PolicySource interface {
	GetSlotUnit(ctx context.Context, roomID int64) (model.SlotUnit, error)
	// FindPolicy returns nil when the room has no policy.
	FindPolicy(ctx context.Context, roomID int64) (*model.WeeklyPolicy, error)
	ListPolicies(ctx context.Context) ([]model.WeeklyPolicy, error)
}

type UnitSource interface {
	GetSlotUnit(ctx context.Context, roomID int64) (model.SlotUnit, error)
}

// RepositorySource reads policies from the database and slot units from the
// place service.
type RepositorySource struct {
	Policies repository.PolicyRepository
	Units    UnitSource
}

var _ PolicySource = RepositorySource{}

func (s RepositorySource) GetSlotUnit(ctx context.Context, roomID int64) (model.SlotUnit, error) {
	return s.Units.GetSlotUnit(ctx, roomID)
}

func (s RepositorySource) FindPolicy(ctx context.Context, roomID int64) (*model.WeeklyPolicy, error) {
	return s.Policies.FindByRoom(ctx, roomID)
}

func (s RepositorySource) ListPolicies(ctx context.Context) ([]model.WeeklyPolicy, error) {
	return s.Policies.ListAll(ctx)
}
