package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/service/generation"
	"github.com/jmehdipour/room-slots/internal/service/requests"
	echo "github.com/labstack/echo/v4"
)

type policyReq struct {
	Recurrence  string                 `json:"recurrence"`
	Slots       []model.WeeklySlotTime `json:"slots"`
	ClosedDates []model.ClosedDate     `json:"closedDates"`
}

func updatePolicyHandler(svc *requests.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		var req policyReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "bad request")
		}
		rec := model.RecurrencePattern(strings.ToUpper(strings.TrimSpace(req.Recurrence)))
		if rec == "" {
			rec = model.EveryWeek
		}

		n, err := svc.UpdatePolicy(c.Request().Context(), model.WeeklyPolicy{
			RoomID:      roomID,
			Slots:       req.Slots,
			Recurrence:  rec,
			ClosedDates: req.ClosedDates,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, generation.EnsureResult{RoomID: roomID, GeneratedCount: n})
	}
}

func ensureSlotsHandler(svc *generation.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		res, err := svc.EnsureSlots(c.Request().Context(), roomID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}
