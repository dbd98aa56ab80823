package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/room-slots/internal/lock"
	"github.com/jmehdipour/room-slots/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var schedulerMetricsAddr string

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run periodic jobs (outbox drain, pending expiry, slot pre-generation, cleanup)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		s := scheduler.New(lock.NewRedisLocker(a.Redis), a.Cfg.Scheduler.LockPrefix, a.Log)
		for _, j := range a.Jobs(a.Cfg.Scheduler) {
			if err := s.Add(j); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, schedulerMetricsAddr, a.Log)

		s.Start()
		<-ctx.Done()
		a.Log.Info("shutting down scheduler", zap.Error(context.Cause(ctx)))
		s.Stop()
		return nil
	},
}

func init() {
	schedulerCmd.Flags().StringVar(&schedulerMetricsAddr, "metrics-addr", ":9102", "address of the /metrics listener (empty disables)")
}
