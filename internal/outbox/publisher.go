package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/metrics"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 5
	DefaultBatchSize  = 100
)

type Config struct {
	MaxRetries int // attempts before an entry becomes FAILED; at least 2
	BatchSize  int // entries per drain
}

func (c Config) normalize() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries < 2 {
		c.MaxRetries = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Result summarizes one publish pass.
type Result struct {
	Processed         int
	Published         int
	Retried           int // failed, still PENDING
	Failed            int // failed, now FAILED
	StateUpdateFailed int // delivered or not, but the row could not be updated
	Deferred          int // held behind an older unpublished entry of its aggregate
}

func (r *Result) add(o outcome) {
	r.Processed++
	switch o {
	case outcomePublished:
		r.Published++
	case outcomeRetried:
		r.Retried++
	case outcomeFailed:
		r.Failed++
	case outcomeStateUpdateFailed:
		r.StateUpdateFailed++
	}
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeStateUpdateFailed
)

type aggregateKey struct {
	typ, id string
}

func keyOf(e model.OutboxEvent) aggregateKey {
	return aggregateKey{typ: e.AggregateType, id: e.AggregateID}
}

// Publisher delivers PENDING outbox entries to a Channel.
type Publisher struct {
	repo    repository.OutboxRepository
	channel Channel
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
}

func NewPublisher(repo repository.OutboxRepository, channel Channel, cfg Config, log *zap.Logger) *Publisher {
	return &Publisher{
		repo:    repo,
		channel: channel,
		cfg:     cfg.normalize(),
		log:     logger.Or(log).Named("outbox"),
		now:     time.Now,
	}
}

func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

func (p *Publisher) MaxRetries() int { return p.cfg.MaxRetries }

// PublishByIDs is the post-commit fast path. Entries that fail stay PENDING
// (or become FAILED at the retry limit) for the drain; nothing is returned
// to the caller whose transaction already committed. An entry whose
// aggregate still has an older PENDING entry is left for the drain, which
// delivers per-aggregate entries oldest first.
func (p *Publisher) PublishByIDs(ctx context.Context, ids []int64) Result {
	var res Result
	if len(ids) == 0 {
		return res
	}
	entries, err := p.repo.ListPendingByIDs(ctx, ids)
	if err != nil {
		p.log.Warn("load outbox entries for immediate publish", zap.Int64s("outbox_ids", ids), zap.Error(err))
		return res
	}
	held := map[aggregateKey]bool{}
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		key := keyOf(e)
		if !held[key] {
			older, err := p.repo.HasOlderPending(ctx, e.AggregateType, e.AggregateID, e.ID)
			if err != nil {
				p.log.Warn("check older outbox entries", zap.Int64("outbox_id", e.ID), zap.Error(err))
			}
			held[key] = err != nil || older
		}
		if held[key] {
			res.Deferred++
			continue
		}
		o := p.publishOne(ctx, e)
		res.add(o)
		if o != outcomePublished {
			held[key] = true
		}
	}
	return res
}

// Drain publishes one batch of retryable entries, oldest first.
func (p *Publisher) Drain(ctx context.Context) (Result, error) {
	var res Result
	entries, err := p.repo.ListRetryable(ctx, p.cfg.MaxRetries, p.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	// entries come oldest first, so an older entry of the same aggregate is
	// always seen before a newer one
	held := map[aggregateKey]bool{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key := keyOf(e)
		if held[key] {
			res.Deferred++
			continue
		}
		o := p.publishOne(ctx, e)
		res.add(o)
		if o != outcomePublished {
			held[key] = true
		}
	}

	if n, err := p.repo.CountByStatus(ctx, model.OutboxPending); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
	if res.Processed > 0 || res.Deferred > 0 {
		p.log.Info("outbox drained",
			zap.Int("processed", res.Processed),
			zap.Int("published", res.Published),
			zap.Int("retried", res.Retried),
			zap.Int("failed", res.Failed),
			zap.Int("state_update_failed", res.StateUpdateFailed),
			zap.Int("deferred", res.Deferred),
		)
	}
	return res, nil
}

func (p *Publisher) publishOne(ctx context.Context, e model.OutboxEvent) outcome {
	fields := []zap.Field{
		zap.Int64("outbox_id", e.ID),
		zap.String("topic", e.Topic),
		zap.String("event_type", e.EventType),
	}

	pubErr := p.channel.Publish(ctx, e.Topic, e.AggregateID, e.Payload)
	if pubErr == nil {
		if err := p.repo.MarkPublished(ctx, e.ID, p.now().UTC()); err != nil {
			// Delivered but still PENDING; the drain will deliver it again.
			p.log.Error("mark outbox entry published", append(fields, zap.Error(err))...)
			return outcomeStateUpdateFailed
		}
		metrics.OutboxPublishedTotal.WithLabelValues(e.Topic).Inc()
		return outcomePublished
	}

	status, err := p.repo.MarkFailedAttempt(ctx, e.ID, pubErr.Error(), p.cfg.MaxRetries, p.now().UTC())
	if err != nil {
		p.log.Error("record outbox publish failure",
			append(fields, zap.NamedError("publish_error", pubErr), zap.Error(err))...)
		return outcomeStateUpdateFailed
	}

	terminal := status == model.OutboxFailed
	metrics.OutboxPublishFailuresTotal.WithLabelValues(e.Topic, strconv.FormatBool(terminal)).Inc()
	if terminal {
		p.log.Error("outbox entry failed permanently",
			append(fields, zap.Int("retry_count", e.RetryCount+1), zap.Error(pubErr))...)
		return outcomeFailed
	}
	p.log.Warn("outbox publish failed, will retry",
		append(fields, zap.Int("retry_count", e.RetryCount+1), zap.Error(pubErr))...)
	return outcomeRetried
}
