package eventhandler

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/jmehdipour/room-slots/internal/kafka"
	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/metrics"
	"go.uber.org/zap"
)

// MessageSource is the fetch/commit side of a consumer group reader.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

type DeadLetterSink interface {
	SendToDLQ(ctx context.Context, m kafka.Message, reason string) error
}

// WorkerConfig tunes the consumer. AlertAfter is the number of failed
// attempts logged at warn level before later failures of the same message
// are logged as errors.
type WorkerConfig struct {
	Workers      int
	AlertAfter   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (c *WorkerConfig) normalize() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 200 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
}

// Worker consumes inbound events:
// - one goroutine fetches from the reader,
// - messages of one topic partition always go to the same processor, so
//   they are handled and committed in order,
// - poison messages are copied to the DLQ and committed,
// - any other failure is retried with capped backoff until it succeeds or
//   ctx ends; its offset is not committed meanwhile, so the partition
//   stalls and a restart redelivers it.
type Worker struct {
	source   MessageSource
	dlq      DeadLetterSink
	registry *Registry
	cfg      WorkerConfig
	log      *zap.Logger
}

func NewWorker(source MessageSource, dlq DeadLetterSink, registry *Registry, cfg WorkerConfig, log *zap.Logger) *Worker {
	cfg.normalize()
	return &Worker{
		source:   source,
		dlq:      dlq,
		registry: registry,
		cfg:      cfg,
		log:      logger.Or(log).Named("consumer"),
	}
}

// Run blocks until ctx is cancelled and every processor has returned.
func (w *Worker) Run(ctx context.Context) error {
	lanes := make([]chan kafka.Message, w.cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 16)
	}

	var wg sync.WaitGroup
	for _, lane := range lanes {
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				// after shutdown, buffered messages are dropped uncommitted;
				// committing one would skip an earlier unfinished offset
				if ctx.Err() != nil {
					continue
				}
				w.processOne(ctx, m)
			}
		}(lane)
	}

	w.log.Info("consumer started",
		zap.Int("workers", w.cfg.Workers), zap.Strings("event_types", w.registry.EventTypes()))

	w.fetchLoop(ctx, lanes)
	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
	w.log.Info("consumer stopped")
	return nil
}

func (w *Worker) fetchLoop(ctx context.Context, lanes []chan kafka.Message) {
	for {
		m, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("fetch failed", zap.Error(err))
			if !sleep(ctx, w.cfg.InitialDelay) {
				return
			}
			continue
		}

		select {
		case lanes[w.laneOf(m)] <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) laneOf(m kafka.Message) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(m.Topic))
	_, _ = h.Write([]byte(strconv.Itoa(m.Partition)))
	return int(h.Sum32() % uint32(w.cfg.Workers))
}

func (w *Worker) processOne(ctx context.Context, m kafka.Message) {
	fields := []zap.Field{
		zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset),
	}

	delay := w.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		eventType, err := w.registry.Dispatch(ctx, m.Value)
		if err == nil {
			metrics.InboundEventsTotal.WithLabelValues(label(eventType), "ok").Inc()
			w.commit(ctx, m, fields)
			return
		}
		if IsPoison(err) {
			w.log.Error("event moved to dead-letter topic",
				append(fields, zap.String("event_type", eventType), zap.Error(err))...)
			if !w.deadLetter(ctx, m, err) {
				return
			}
			metrics.InboundEventsTotal.WithLabelValues(label(eventType), "dlq").Inc()
			w.commit(ctx, m, fields)
			return
		}
		if ctx.Err() != nil {
			// not committed; redelivered after restart
			return
		}

		metrics.InboundEventsTotal.WithLabelValues(label(eventType), "retried").Inc()
		logf := w.log.Warn
		if attempt >= w.cfg.AlertAfter {
			logf = w.log.Error
		}
		logf("handler failed, retrying",
			append(fields, zap.String("event_type", eventType), zap.Int("attempt", attempt),
				zap.Duration("delay", delay), zap.Error(err))...)
		if !sleep(ctx, delay) {
			return
		}
		if delay *= 2; delay > w.cfg.MaxDelay {
			delay = w.cfg.MaxDelay
		}
	}
}

// deadLetter keeps trying until the copy is written or ctx ends, so the
// partition never skips an event that was not preserved.
func (w *Worker) deadLetter(ctx context.Context, m kafka.Message, cause error) bool {
	delay := w.cfg.InitialDelay
	for {
		err := w.dlq.SendToDLQ(ctx, m, cause.Error())
		if err == nil {
			return true
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return false
		}
		w.log.Error("dead-letter write failed", zap.String("topic", m.Topic), zap.Error(err))
		if !sleep(ctx, delay) {
			return false
		}
		if delay *= 2; delay > w.cfg.MaxDelay {
			delay = w.cfg.MaxDelay
		}
	}
}

func (w *Worker) commit(ctx context.Context, m kafka.Message, fields []zap.Field) {
	if err := w.source.Commit(ctx, m); err != nil {
		w.log.Error("commit failed", append(fields, zap.Error(err))...)
	}
}

func label(eventType string) string {
	if eventType == "" {
		return "unknown"
	}
	return eventType
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
