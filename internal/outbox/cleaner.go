package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"go.uber.org/zap"
)

// Cleaner removes PUBLISHED entries older than the retention period. When an
// archive is configured the entries are copied there before deletion.
type Cleaner struct {
	repo      repository.OutboxRepository
	archive   repository.EventArchive // optional
	retention time.Duration
	batch     int
	log       *zap.Logger
	now       func() time.Time
}

func NewCleaner(repo repository.OutboxRepository, archive repository.EventArchive, retention time.Duration, log *zap.Logger) *Cleaner {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Cleaner{
		repo:      repo,
		archive:   archive,
		retention: retention,
		batch:     500,
		log:       logger.Or(log).Named("outbox-cleaner"),
		now:       time.Now,
	}
}

func (c *Cleaner) WithClock(now func() time.Time) *Cleaner {
	c.now = now
	return c
}

// Run deletes in batches until no expired entries remain and returns the
// number removed.
func (c *Cleaner) Run(ctx context.Context) (int64, error) {
	cutoff := c.now().UTC().Add(-c.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		entries, err := c.repo.ListPublishedBefore(ctx, cutoff, c.batch)
		if err != nil {
			return total, err
		}
		if len(entries) == 0 {
			break
		}

		if c.archive != nil {
			if err := c.archive.Archive(ctx, toArchived(entries)); err != nil {
				return total, fmt.Errorf("archive outbox entries: %w", err)
			}
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		n, err := c.repo.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		total += n
		if len(entries) < c.batch {
			break
		}
	}

	if total > 0 {
		c.log.Info("outbox entries removed", zap.Int64("count", total), zap.Time("cutoff", cutoff))
	}
	return total, nil
}

func toArchived(entries []model.OutboxEvent) []model.ArchivedEvent {
	out := make([]model.ArchivedEvent, 0, len(entries))
	for _, e := range entries {
		a := model.ArchivedEvent{
			EventID:       e.EventID,
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			EventType:     e.EventType,
			Topic:         e.Topic,
			Payload:       string(e.Payload),
			CreatedAt:     e.CreatedAt,
		}
		if e.PublishedAt != nil {
			a.PublishedAt = *e.PublishedAt
		}
		out = append(out, a)
	}
	return out
}
