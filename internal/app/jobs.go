package app

import (
	"context"
	"fmt"

	"github.com/jmehdipour/room-slots/internal/config"
	"github.com/jmehdipour/room-slots/internal/scheduler"
)

// Job names; each run holds the lock "<lock_prefix>:<name>".
const (
	JobOutboxDrain     = "outbox-drain"
	JobExpirePending   = "expire-pending"
	JobSlotPregenerate = "slot-pregenerate"
	JobSlotCleanup     = "slot-cleanup"
	JobOutboxCleanup   = "outbox-cleanup"
)

// Jobs returns the periodic jobs run by the scheduler worker.
func (s *Services) Jobs(cfg config.SchedulerConfig) []scheduler.Job {
	return []scheduler.Job{
		{
			Name: JobOutboxDrain, Spec: cfg.OutboxDrain.Spec, LockTTL: cfg.OutboxDrain.LockTTL,
			Run: func(ctx context.Context) error {
				_, err := s.Publisher.Drain(ctx)
				return err
			},
		},
		{
			Name: JobExpirePending, Spec: cfg.ExpirePending.Spec, LockTTL: cfg.ExpirePending.LockTTL,
			Run: func(ctx context.Context) error {
				_, err := s.Management.RestoreExpiredPending(ctx)
				return err
			},
		},
		{
			Name: JobSlotPregenerate, Spec: cfg.SlotPregenerate.Spec, LockTTL: cfg.SlotPregenerate.LockTTL,
			Run: func(ctx context.Context) error {
				report, err := s.Generation.PregenerateHorizon(ctx)
				if err != nil {
					return err
				}
				if len(report.Failed) > 0 {
					return fmt.Errorf("slot pre-generation failed for %d of %d rooms",
						len(report.Failed), len(report.Failed)+len(report.Created))
				}
				return nil
			},
		},
		{
			Name: JobSlotCleanup, Spec: cfg.SlotCleanup.Spec, LockTTL: cfg.SlotCleanup.LockTTL,
			Run: func(ctx context.Context) error {
				_, err := s.Generation.DeleteYesterday(ctx)
				return err
			},
		},
		{
			Name: JobOutboxCleanup, Spec: cfg.OutboxCleanup.Spec, LockTTL: cfg.OutboxCleanup.LockTTL,
			Run: func(ctx context.Context) error {
				_, err := s.Cleaner.Run(ctx)
				return err
			},
		},
	}
}
