// Package app wires repositories, services and infrastructure from config.
package app

import (
	"github.com/jmehdipour/room-slots/internal/config"
	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/outbox"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmehdipour/room-slots/internal/service/generation"
	"github.com/jmehdipour/room-slots/internal/service/management"
	"github.com/jmehdipour/room-slots/internal/service/query"
	"github.com/jmehdipour/room-slots/internal/service/requests"
	"go.uber.org/zap"
)

// Repositories is the storage seen by the services. Archive may be nil.
type Repositories struct {
	Tx       repository.TxManager
	Slots    repository.SlotRepository
	Outbox   repository.OutboxRepository
	Policies repository.PolicyRepository
	Requests repository.RequestRepository
	Archive  repository.EventArchive
}

type Services struct {
	Repos      Repositories
	Writer     *outbox.Writer
	Publisher  *outbox.Publisher
	Cleaner    *outbox.Cleaner
	Generation *generation.Service
	Management *management.Service
	Query      *query.Service
	Requests   *requests.Service
}

// NewServices builds the domain services on top of repos. channel receives
// outbox entries; units resolves the slot unit of a room.
func NewServices(cfg config.Config, repos Repositories, channel outbox.Channel, units generation.UnitSource, log *zap.Logger) *Services {
	log = logger.Or(log)

	writer := outbox.NewWriter(repos.Outbox)
	publisher := outbox.NewPublisher(repos.Outbox, channel, outbox.Config{
		MaxRetries: cfg.Outbox.MaxRetries,
		BatchSize:  cfg.Outbox.BatchSize,
	}, log)
	cleaner := outbox.NewCleaner(repos.Outbox, repos.Archive, cfg.Outbox.Retention, log)

	gen := generation.New(repos.Tx, repos.Slots,
		generation.RepositorySource{Policies: repos.Policies, Units: units},
		generation.Config{HorizonDays: cfg.Slots.HorizonDays, RegenerateDays: cfg.Slots.RegenerateDays},
		log,
	)
	mgmt := management.New(repos.Tx, repos.Slots, writer, publisher, cfg.Slots.PendingTimeout, log)
	reqs := requests.New(repos.Tx, repos.Requests, repos.Policies, writer, publisher, gen, mgmt, log)

	return &Services{
		Repos:      repos,
		Writer:     writer,
		Publisher:  publisher,
		Cleaner:    cleaner,
		Generation: gen,
		Management: mgmt,
		Query:      query.New(repos.Slots),
		Requests:   reqs,
	}
}
