// Package requests handles policy changes and the asynchronous generation and
// closed-date requests. Submitting stores a slot_requests row and its
// *Requested event in one transaction; the inbound consumer later calls the
// matching Process method.
package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	"github.com/jmehdipour/room-slots/internal/service/generation"
	"github.com/jmehdipour/room-slots/internal/service/management"
	"github.com/jmehdipour/room-slots/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// MaxRangeDays bounds a single generation request.
const MaxRangeDays = 366

type Service struct {
	tx         repository.TxManager
	requests   repository.RequestRepository
	policies   repository.PolicyRepository
	writer     management.EventWriter
	publisher  management.PostCommitPublisher // optional
	generation *generation.Service
	management *management.Service
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
}

func New(
	tx repository.TxManager,
	requests repository.RequestRepository,
	policies repository.PolicyRepository,
	writer management.EventWriter,
	publisher management.PostCommitPublisher,
	gen *generation.Service,
	mgmt *management.Service,
	log *zap.Logger,
) *Service {
	return &Service{
		tx:         tx,
		requests:   requests,
		policies:   policies,
		writer:     writer,
		publisher:  publisher,
		generation: gen,
		management: mgmt,
		log:        logger.Or(log).Named("requests"),
		now:        time.Now,
		newID:      util.NewUUID,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// UpdatePolicy stores p as the room's operating policy and regenerates the
// room's future slots from it. It returns the number of slots created.
func (s *Service) UpdatePolicy(ctx context.Context, p model.WeeklyPolicy) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	p.UpdatedAt = s.now().UTC()

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.policies.Upsert(ctx, tx, p)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert policy for room %d: %w", p.RoomID, err)
	}

	n, err := s.generation.RegenerateFuture(ctx, p.RoomID)
	if err != nil {
		return 0, err
	}
	s.log.Info("policy updated", zap.Int64("room_id", p.RoomID), zap.Int("generated", n))
	return n, nil
}

// SubmitGeneration records a request to generate slots for [start, end].
func (s *Service) SubmitGeneration(ctx context.Context, roomID int64, start, end time.Time) (*model.SlotRequest, error) {
	start, end = model.DateOf(start), model.DateOf(end)
	if roomID <= 0 {
		return nil, fmt.Errorf("%w: room id must be positive", model.ErrInvalidInput)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s before start date %s",
			model.ErrInvalidInput, model.FormatDate(end), model.FormatDate(start))
	}
	if end.Sub(start) > MaxRangeDays*24*time.Hour {
		return nil, fmt.Errorf("%w: range exceeds %d days", model.ErrInvalidInput, MaxRangeDays)
	}

	payload := model.GenerationRequestPayload{StartDate: model.FormatDate(start), EndDate: model.FormatDate(end)}
	return s.submit(ctx, model.RequestGeneration, roomID, payload, func(id string, now time.Time) model.Event {
		return model.SlotGenerationRequested{RequestID: id, RoomID: roomID, StartDate: start, EndDate: end, OccurredAt: now}
	})
}

// SubmitClosedDates records a request to replace the room's closed dates.
func (s *Service) SubmitClosedDates(ctx context.Context, roomID int64, closed []model.ClosedDate) (*model.SlotRequest, error) {
	p, err := s.policies.FindByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("find policy for room %d: %w", roomID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("room %d: %w", roomID, model.ErrPolicyNotFound)
	}

	payload := model.ClosedDatesRequestPayload{ClosedDates: nonNil(closed)}
	return s.submit(ctx, model.RequestClosedDates, roomID, payload, func(id string, now time.Time) model.Event {
		return model.ClosedDateUpdateRequested{RequestID: id, RoomID: roomID, OccurredAt: now}
	})
}

func (s *Service) submit(
	ctx context.Context,
	kind model.RequestKind,
	roomID int64,
	payload any,
	build func(id string, now time.Time) model.Event,
) (*model.SlotRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	now := s.now().UTC()
	req := model.SlotRequest{
		ID:        s.newID(),
		Kind:      kind,
		RoomID:    roomID,
		Payload:   raw,
		Status:    model.RequestRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var outboxID int64
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.requests.Insert(ctx, tx, req); err != nil {
			return err
		}
		outboxID, err = s.writer.Append(ctx, tx, build(req.ID, now))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s request for room %d: %w", kind, roomID, err)
	}

	if s.publisher != nil {
		s.publisher.PublishByIDs(ctx, []int64{outboxID})
	}
	s.log.Info("request submitted",
		zap.String("request_id", req.ID), zap.String("kind", string(kind)), zap.Int64("room_id", roomID))
	return &req, nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (*model.SlotRequest, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrRequestNotFound, id)
	}
	return req, nil
}

// ProcessGeneration runs a GENERATION request. A generation failure is stored
// on the request and is not returned.
func (s *Service) ProcessGeneration(ctx context.Context, id string) error {
	return s.process(ctx, id, model.RequestGeneration, func(ctx context.Context, req model.SlotRequest) error {
		var p model.GenerationRequestPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		start, err := model.ParseDate(p.StartDate)
		if err != nil {
			return err
		}
		end, err := model.ParseDate(p.EndDate)
		if err != nil {
			return err
		}
		n, err := s.generation.GenerateForDateRange(ctx, req.RoomID, start, end)
		if err != nil {
			return err
		}
		s.log.Info("generation request completed",
			zap.String("request_id", req.ID), zap.Int64("room_id", req.RoomID), zap.Int("generated", n))
		return nil
	})
}

// ProcessClosedDates stores the requested closed dates on the policy, closes
// and reopens slots over the generation horizon accordingly, then fills in
// slots for days that are no longer closed.
func (s *Service) ProcessClosedDates(ctx context.Context, id string) error {
	return s.process(ctx, id, model.RequestClosedDates, func(ctx context.Context, req model.SlotRequest) error {
		var p model.ClosedDatesRequestPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}

		from := model.DateOf(s.now().UTC())
		to := from.AddDate(0, 0, s.generation.HorizonDays())
		updatePolicy := func(ctx context.Context, tx *sqlx.Tx) error {
			return s.policies.UpdateClosedDates(ctx, tx, req.RoomID, p.ClosedDates, s.now().UTC())
		}

		res, err := s.management.ApplyClosedDates(ctx, req.RoomID, p.ClosedDates, from, to, updatePolicy)
		if err != nil {
			return err
		}
		n, err := s.generation.GenerateForDateRange(ctx, req.RoomID, from, to)
		if err != nil {
			return err
		}
		s.log.Info("closed dates applied",
			zap.String("request_id", req.ID), zap.Int64("room_id", req.RoomID),
			zap.Int("closed", res.Closed), zap.Int("reopened", res.Reopened), zap.Int("generated", n))
		return nil
	})
}

func (s *Service) process(
	ctx context.Context,
	id string,
	kind model.RequestKind,
	run func(ctx context.Context, req model.SlotRequest) error,
) error {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Kind != kind {
		return fmt.Errorf("%w: request %s is %s, not %s", model.ErrMalformedEvent, id, req.Kind, kind)
	}
	if req.Status.Terminal() {
		s.log.Info("request already finished, skipping",
			zap.String("request_id", id), zap.String("status", string(req.Status)))
		return nil
	}

	if err := s.requests.UpdateStatus(ctx, id, model.RequestInProgress, nil, s.now().UTC()); err != nil {
		return fmt.Errorf("mark request %s in progress: %w", id, err)
	}

	runErr := run(ctx, *req)
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		// left IN_PROGRESS so a redelivery picks it up again
		return runErr
	}
	if runErr != nil {
		msg := runErr.Error()
		if err := s.requests.UpdateStatus(ctx, id, model.RequestFailed, &msg, s.now().UTC()); err != nil {
			return fmt.Errorf("mark request %s failed: %w", id, err)
		}
		s.log.Warn("request failed",
			zap.String("request_id", id), zap.Int64("room_id", req.RoomID), zap.Error(runErr))
		return nil
	}

	if err := s.requests.UpdateStatus(ctx, id, model.RequestCompleted, nil, s.now().UTC()); err != nil {
		return fmt.Errorf("mark request %s completed: %w", id, err)
	}
	return nil
}

func nonNil(c []model.ClosedDate) []model.ClosedDate {
	if c == nil {
		return []model.ClosedDate{}
	}
	return c
}
