package cmd

import (
	"context"
	"time"

	"github.com/jmehdipour/room-slots/internal/app"
	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo room policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Log

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		log.Info("seeding demo room policies")
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		for _, p := range demoPolicies() {
			n, err := a.Requests.UpdatePolicy(ctx, p)
			if err != nil {
				// the policy row is kept even when place-info is unreachable
				log.Warn("seed room", zap.Int64("room_id", p.RoomID), zap.Error(err))
				continue
			}
			log.Info("room seeded", zap.Int64("room_id", p.RoomID), zap.Int("generated", n))
		}
		return nil
	},
}

// demoPolicies returns idempotent demo schedules: a weekday office room, a
// studio open every other week, and a weekend hall.
func demoPolicies() []model.WeeklyPolicy {
	office := model.WeeklyPolicy{RoomID: 101, Recurrence: model.EveryWeek}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		for h := 9; h < 18; h++ {
			office.Slots = append(office.Slots, model.WeeklySlotTime{Weekday: wd, Start: model.NewTimeOfDay(h, 0)})
		}
	}

	studio := model.WeeklyPolicy{RoomID: 102, Recurrence: model.OddWeek}
	for _, wd := range []time.Weekday{time.Tuesday, time.Thursday} {
		for h := 10; h < 16; h++ {
			studio.Slots = append(studio.Slots,
				model.WeeklySlotTime{Weekday: wd, Start: model.NewTimeOfDay(h, 0)},
				model.WeeklySlotTime{Weekday: wd, Start: model.NewTimeOfDay(h, 30)},
			)
		}
	}

	hall := model.WeeklyPolicy{RoomID: 103, Recurrence: model.EveryWeek}
	for _, wd := range []time.Weekday{time.Saturday, time.Sunday} {
		for h := 12; h < 22; h += 2 {
			hall.Slots = append(hall.Slots, model.WeeklySlotTime{Weekday: wd, Start: model.NewTimeOfDay(h, 0)})
		}
	}

	return []model.WeeklyPolicy{office, studio, hall}
}
