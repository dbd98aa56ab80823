package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/config"
	"github.com/jmehdipour/room-slots/internal/db"
	"github.com/jmehdipour/room-slots/internal/eventhandler"
	httpSrv "github.com/jmehdipour/room-slots/internal/http"
	"github.com/jmehdipour/room-slots/internal/kafka"
	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/outbox"
	"github.com/jmehdipour/room-slots/internal/placeinfo"
	"github.com/jmehdipour/room-slots/internal/rabbitmq"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App owns the process-wide connections. Close releases them in reverse
// order of creation.
type App struct {
	*Services

	Cfg        config.Config
	Log        *zap.Logger
	MySQL      *sqlx.DB
	ClickHouse *sqlx.DB // nil when clickhouse.dsn is empty
	Redis      *redis.Client
	Channel    outbox.Channel

	closers []func() error
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	log = logger.Or(log)
	a := &App{Cfg: cfg, Log: log}

	mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	a.MySQL = mysqlDB
	a.closers = append(a.closers, mysqlDB.Close)

	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	var archive repository.EventArchive
	if chDB != nil {
		a.ClickHouse = chDB
		a.closers = append(a.closers, chDB.Close)
		archive = repository.NewEventArchive(chDB)
	}

	rds, err := db.NewRedisClient(cfg.Redis)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	a.Redis = rds
	a.closers = append(a.closers, rds.Close)

	channel, closeChannel, err := newChannel(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Channel = channel
	a.closers = append(a.closers, closeChannel)

	repos := Repositories{
		Tx:       repository.NewTxManager(mysqlDB),
		Slots:    repository.NewSlotRepository(mysqlDB),
		Outbox:   repository.NewOutboxRepository(mysqlDB),
		Policies: repository.NewPolicyRepository(mysqlDB),
		Requests: repository.NewRequestRepository(mysqlDB),
		Archive:  archive,
	}
	a.Services = NewServices(cfg, repos, channel, placeinfo.NewClient(cfg.PlaceInfo, log), log)

	log.Info("app initialised",
		zap.String("broker", cfg.Broker.Kind),
		zap.Bool("clickhouse", chDB != nil),
		zap.String("place_info", cfg.PlaceInfo.BaseURL),
	)
	return a, nil
}

// newChannel selects the outbound broker.
func newChannel(cfg config.Config) (outbox.Channel, func() error, error) {
	switch cfg.Broker.Kind {
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq connect: %w", err)
		}
		return p, p.Close, nil
	default:
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.WriteTimeout)
		return p, p.Close, nil
	}
}

func (a *App) HTTPDeps() httpSrv.Deps {
	return httpSrv.Deps{
		Query:      a.Query,
		Management: a.Management,
		Generation: a.Generation,
		Requests:   a.Requests,
		Outbox:     a.Repos.Outbox,
		Archive:    a.Repos.Archive,
		Redis:      a.Redis,
	}
}

// NewConsumerWorker builds the inbound event worker. The returned func closes
// the reader and the dead-letter producer.
func (a *App) NewConsumerWorker() (*eventhandler.Worker, func() error, error) {
	registry, err := eventhandler.NewRegistry(a.Management, a.Requests, a.Log)
	if err != nil {
		return nil, nil, err
	}

	kc := a.Cfg.Kafka
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        kc.Brokers,
		Topics:         kc.Topics,
		GroupID:        kc.GroupID,
		MinBytes:       kc.MinBytes,
		MaxBytes:       kc.MaxBytes,
		CommitInterval: time.Duration(kc.CommitInterval) * time.Millisecond,
	})
	dlq := kafka.NewProducer(kc.Brokers, kc.WriteTimeout)

	w := eventhandler.NewWorker(consumer, dlq, registry, eventhandler.WorkerConfig{
		Workers:      kc.Consumer.Workers,
		AlertAfter:   kc.Consumer.AlertAfter,
		InitialDelay: kc.Consumer.InitialDelay,
		MaxDelay:     kc.Consumer.MaxDelay,
	}, a.Log)

	closeAll := func() error {
		return errors.Join(consumer.Close(), dlq.Close())
	}
	return w, closeAll, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
