package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumerMetricsAddr string

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Consume reservation and slot-request events from Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		w, closeWorker, err := a.NewConsumerWorker()
		if err != nil {
			return err
		}
		defer func() {
			if err := closeWorker(); err != nil {
				a.Log.Warn("close consumer", zap.Error(err))
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, consumerMetricsAddr, a.Log)

		a.Log.Info("consumer started",
			zap.Strings("topics", a.Cfg.Kafka.Topics),
			zap.String("group", a.Cfg.Kafka.GroupID),
			zap.Int("workers", a.Cfg.Kafka.Consumer.Workers),
		)
		return w.Run(ctx)
	},
}

func init() {
	consumerCmd.Flags().StringVar(&consumerMetricsAddr, "metrics-addr", ":9101", "address of the /metrics listener (empty disables)")
}
