package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/service/management"
	"github.com/jmehdipour/room-slots/internal/service/query"
	echo "github.com/labstack/echo/v4"
)

// slotView is the JSON form of a slot. Ids are strings on the wire.
type slotView struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId"`
	SlotDate      string    `json:"slotDate"`
	SlotTime      string    `json:"slotTime"`
	Status        string    `json:"status"`
	ReservationID *string   `json:"reservationId"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toSlotView(s model.Slot) slotView {
	v := slotView{
		ID:        strconv.FormatInt(s.ID, 10),
		RoomID:    strconv.FormatInt(s.RoomID, 10),
		SlotDate:  model.FormatDate(s.SlotDate),
		SlotTime:  s.SlotTime.String(),
		Status:    s.Status.String(),
		UpdatedAt: s.UpdatedAt.UTC(),
	}
	if s.ReservationID != nil {
		id := strconv.FormatInt(*s.ReservationID, 10)
		v.ReservationID = &id
	}
	return v
}

func toSlotViews(slots []model.Slot) []slotView {
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotView(s))
	}
	return out
}

type slotReq struct {
	Date          string `json:"date"`
	Time          string `json:"time"`
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason"`
}

func roomIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	return id, err == nil && id > 0
}

func dateQuery(c echo.Context, name string) (time.Time, bool) {
	d, err := model.ParseDate(strings.TrimSpace(c.QueryParam(name)))
	return d, err == nil
}

func (r slotReq) key(roomID int64) (model.SlotKey, bool) {
	d, err := model.ParseDate(strings.TrimSpace(r.Date))
	if err != nil {
		return model.SlotKey{}, false
	}
	t, err := model.ParseTimeOfDay(r.Time)
	if err != nil {
		return model.SlotKey{}, false
	}
	return model.SlotKey{RoomID: roomID, Date: d, Time: t}, true
}

// bindSlot reads the room path param and the slot body. A non-empty problem
// is the message of a 400 response.
func bindSlot(c echo.Context) (req slotReq, key model.SlotKey, problem string) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return req, key, "invalid room id"
	}
	if err := c.Bind(&req); err != nil {
		return req, key, "bad request"
	}
	key, ok = req.key(roomID)
	if !ok {
		return req, key, "date must be YYYY-MM-DD and time HH:MM"
	}
	return req, key, ""
}

func listSlotsHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		from, ok1 := dateQuery(c, "from")
		to, ok2 := dateQuery(c, "to")
		if !ok1 || !ok2 {
			return badRequest(c, "from and to must be YYYY-MM-DD")
		}

		var (
			slots []model.Slot
			err   error
		)
		if raw := c.QueryParam("status"); raw != "" {
			st, valid := model.ParseSlotStatus(raw)
			if !valid || !from.Equal(to) {
				return badRequest(c, "status filter needs a valid status and from == to")
			}
			slots, err = svc.SlotsByStatus(c.Request().Context(), roomID, from, st)
		} else {
			slots, err = svc.SlotsByDateRange(c.Request().Context(), roomID, from, to)
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"count": len(slots), "results": toSlotViews(slots)})
	}
}

func availableSlotsHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		date, ok := dateQuery(c, "date")
		if !ok {
			return badRequest(c, "date must be YYYY-MM-DD")
		}
		slots, err := svc.AvailableSlots(c.Request().Context(), roomID, date)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"count": len(slots), "results": toSlotViews(slots)})
	}
}

func countAvailableHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		from, ok1 := dateQuery(c, "from")
		to, ok2 := dateQuery(c, "to")
		if !ok1 || !ok2 {
			return badRequest(c, "from and to must be YYYY-MM-DD")
		}
		n, err := svc.CountAvailable(c.Request().Context(), roomID, from, to)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"roomId": strconv.FormatInt(roomID, 10), "available": n})
	}
}

func getSlotHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		key, ok := slotReq{Date: c.Param("date"), Time: c.Param("time")}.key(roomID)
		if !ok {
			return badRequest(c, "date must be YYYY-MM-DD and time HH:MM")
		}
		slot, err := svc.Slot(c.Request().Context(), key)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toSlotView(*slot))
	}
}

func markPendingHandler(svc *management.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, key, problem := bindSlot(c)
		if problem != "" {
			return badRequest(c, problem)
		}
		resID, err := model.ParseReservationID(req.ReservationID)
		if err != nil {
			return writeError(c, err)
		}
		slot, err := svc.MarkPending(c.Request().Context(), key, resID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toSlotView(*slot))
	}
}

func cancelSlotHandler(svc *management.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, key, problem := bindSlot(c)
		if problem != "" {
			return badRequest(c, problem)
		}
		slot, err := svc.Cancel(c.Request().Context(), key, strings.TrimSpace(req.Reason))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toSlotView(*slot))
	}
}

// slotActionHandler serves transitions that need only the slot key.
func slotActionHandler(action func(ctx context.Context, key model.SlotKey) (*model.Slot, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, key, problem := bindSlot(c)
		if problem != "" {
			return badRequest(c, problem)
		}
		slot, err := action(c.Request().Context(), key)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toSlotView(*slot))
	}
}
