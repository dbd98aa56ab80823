// Package generation creates AVAILABLE slots from weekly operating policies
// and removes slots whose date has passed.
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/metrics"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Config struct {
	HorizonDays    int // EnsureSlots and pre-generation window
	RegenerateDays int // RegenerateFuture window
}

type Service struct {
	tx     repository.TxManager
	slots  repository.SlotRepository
	source PolicySource
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func New(tx repository.TxManager, slots repository.SlotRepository, source PolicySource, cfg Config, log *zap.Logger) *Service {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 30
	}
	if cfg.RegenerateDays <= 0 {
		cfg.RegenerateDays = 60
	}
	return &Service{
		tx:     tx,
		slots:  slots,
		source: source,
		cfg:    cfg,
		log:    logger.Or(log).Named("generation"),
		now:    time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) HorizonDays() int { return s.cfg.HorizonDays }

func (s *Service) today() time.Time { return model.DateOf(s.now().UTC()) }

// RoomsReport is the outcome of generating for every room.
type RoomsReport struct {
	Created map[int64]int
	Failed  map[int64]error
}

func (r RoomsReport) Total() int {
	n := 0
	for _, c := range r.Created {
		n += c
	}
	return n
}

type EnsureResult struct {
	RoomID         int64 `json:"roomId"`
	GeneratedCount int   `json:"generatedCount"`
}

// GenerateForDate creates the slots the room's policy requires on date and
// returns how many were created. Existing natural keys are left alone.
func (s *Service) GenerateForDate(ctx context.Context, roomID int64, date time.Time) (int, error) {
	date = model.DateOf(date)
	policy, unit, err := s.load(ctx, roomID)
	if err != nil {
		return 0, &model.GenerationError{RoomID: roomID, Date: date, Err: err}
	}
	n, err := s.generate(ctx, nil, *policy, unit, date)
	if err != nil {
		return 0, &model.GenerationError{RoomID: roomID, Date: date, Err: err}
	}
	return n, nil
}

// GenerateForDateRange runs GenerateForDate for each day in [start, end].
// It stops at the first failing day and returns the slots created so far.
func (s *Service) GenerateForDateRange(ctx context.Context, roomID int64, start, end time.Time) (int, error) {
	start, end = model.DateOf(start), model.DateOf(end)
	if end.Before(start) {
		return 0, &model.GenerationError{RoomID: roomID, Date: start,
			Err: fmt.Errorf("end %s before start", model.FormatDate(end))}
	}

	total := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.GenerateForDate(ctx, roomID, d)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// GenerateForAllRooms generates date for every room with a policy. A failing
// room is recorded in the report and does not stop the others.
func (s *Service) GenerateForAllRooms(ctx context.Context, date time.Time) (RoomsReport, error) {
	date = model.DateOf(date)
	report := RoomsReport{Created: map[int64]int{}, Failed: map[int64]error{}}

	policies, err := s.source.ListPolicies(ctx)
	if err != nil {
		return report, fmt.Errorf("list policies: %w", err)
	}

	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := s.generateRoom(ctx, p, date)
		if err != nil {
			report.Failed[p.RoomID] = err
			s.log.Error("generate slots for room",
				zap.Int64("room_id", p.RoomID), zap.String("slot_date", model.FormatDate(date)), zap.Error(err))
			continue
		}
		report.Created[p.RoomID] = n
	}

	s.log.Info("slots generated for all rooms",
		zap.String("slot_date", model.FormatDate(date)),
		zap.Int("rooms", len(policies)),
		zap.Int("created", report.Total()),
		zap.Int("failed_rooms", len(report.Failed)),
	)
	return report, nil
}

func (s *Service) generateRoom(ctx context.Context, p model.WeeklyPolicy, date time.Time) (int, error) {
	unit, err := s.source.GetSlotUnit(ctx, p.RoomID)
	if err != nil {
		return 0, &model.GenerationError{RoomID: p.RoomID, Date: date, Err: err}
	}
	n, err := s.generate(ctx, nil, p, unit, date)
	if err != nil {
		return 0, &model.GenerationError{RoomID: p.RoomID, Date: date, Err: err}
	}
	return n, nil
}

// RegenerateFuture replaces the room's unreserved slots from today on with
// slots derived from the current policy. PENDING and RESERVED slots survive
// and block regeneration of their keys. The delete and the inserts share one
// transaction.
func (s *Service) RegenerateFuture(ctx context.Context, roomID int64) (int, error) {
	today := s.today()
	policy, unit, err := s.load(ctx, roomID)
	if err != nil {
		return 0, &model.GenerationError{RoomID: roomID, Date: today, Err: err}
	}

	var created int
	var deleted int64
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.slots.DeleteFutureUnreserved(ctx, tx, roomID, today)
		if err != nil {
			return fmt.Errorf("delete future slots: %w", err)
		}
		deleted = n
		end := today.AddDate(0, 0, s.cfg.RegenerateDays)
		for d := today; !d.After(end); d = d.AddDate(0, 0, 1) {
			n, err := s.generate(ctx, tx, *policy, unit, d)
			if err != nil {
				return fmt.Errorf("generate %s: %w", model.FormatDate(d), err)
			}
			created += n
		}
		return nil
	})
	if err != nil {
		return 0, &model.GenerationError{RoomID: roomID, Date: today, Err: err}
	}

	s.log.Info("future slots regenerated",
		zap.Int64("room_id", roomID), zap.Int64("deleted", deleted), zap.Int("created", created))
	return created, nil
}

// EnsureSlots fills the room's booking horizon starting today.
func (s *Service) EnsureSlots(ctx context.Context, roomID int64) (EnsureResult, error) {
	today := s.today()
	n, err := s.GenerateForDateRange(ctx, roomID, today, today.AddDate(0, 0, s.cfg.HorizonDays))
	if err != nil {
		return EnsureResult{RoomID: roomID, GeneratedCount: n}, err
	}
	return EnsureResult{RoomID: roomID, GeneratedCount: n}, nil
}

// PregenerateHorizon generates the last day of the horizon for every room.
// Run daily, it keeps the window full.
func (s *Service) PregenerateHorizon(ctx context.Context) (RoomsReport, error) {
	return s.GenerateForAllRooms(ctx, s.today().AddDate(0, 0, s.cfg.HorizonDays))
}

// DeleteBefore removes slots dated strictly before date.
func (s *Service) DeleteBefore(ctx context.Context, date time.Time) (int64, error) {
	n, err := s.slots.DeleteBefore(ctx, nil, model.DateOf(date))
	if err != nil {
		return 0, fmt.Errorf("delete slots before %s: %w", model.FormatDate(date), err)
	}
	if n > 0 {
		s.log.Info("past slots deleted", zap.String("before", model.FormatDate(date)), zap.Int64("count", n))
	}
	return n, nil
}

// DeleteYesterday removes every slot whose date has passed.
func (s *Service) DeleteYesterday(ctx context.Context) (int64, error) {
	return s.DeleteBefore(ctx, s.today())
}

func (s *Service) load(ctx context.Context, roomID int64) (*model.WeeklyPolicy, model.SlotUnit, error) {
	policy, err := s.source.FindPolicy(ctx, roomID)
	if err != nil {
		return nil, "", err
	}
	if policy == nil {
		return nil, "", model.ErrPolicyNotFound
	}
	unit, err := s.source.GetSlotUnit(ctx, roomID)
	if err != nil {
		return nil, "", err
	}
	return policy, unit, nil
}

func (s *Service) generate(ctx context.Context, tx *sqlx.Tx, p model.WeeklyPolicy, unit model.SlotUnit, date time.Time) (int, error) {
	starts := p.StartTimesFor(date, unit)
	if len(starts) == 0 {
		return 0, nil
	}

	existing, err := s.slots.ExistingTimes(ctx, tx, p.RoomID, date)
	if err != nil {
		return 0, err
	}
	have := make(map[model.TimeOfDay]struct{}, len(existing))
	for _, t := range existing {
		have[t] = struct{}{}
	}

	now := s.now().UTC()
	batch := make([]model.Slot, 0, len(starts))
	for _, st := range starts {
		if _, ok := have[st]; ok {
			continue
		}
		batch = append(batch, model.NewAvailableSlot(model.SlotKey{RoomID: p.RoomID, Date: date, Time: st}, now))
	}
	if len(batch) == 0 {
		return 0, nil
	}

	n, err := s.slots.InsertBatch(ctx, tx, batch)
	if err != nil {
		return 0, err
	}
	metrics.SlotsGeneratedTotal.Add(float64(n))
	return int(n), nil
}
