package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/service/requests"
	echo "github.com/labstack/echo/v4"
)

type generationReq struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type closedDatesReq struct {
	ClosedDates []model.ClosedDate `json:"closedDates"`
}

type requestView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	RoomID    string    `json:"roomId"`
	Status    string    `json:"status"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toRequestView(r model.SlotRequest) requestView {
	return requestView{
		ID:        r.ID,
		Kind:      string(r.Kind),
		RoomID:    strconv.FormatInt(r.RoomID, 10),
		Status:    string(r.Status),
		Error:     r.Error,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func submitGenerationHandler(svc *requests.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		var req generationReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "bad request")
		}
		start, err1 := model.ParseDate(strings.TrimSpace(req.StartDate))
		end, err2 := model.ParseDate(strings.TrimSpace(req.EndDate))
		if err1 != nil || err2 != nil {
			return badRequest(c, "startDate and endDate must be YYYY-MM-DD")
		}

		sr, err := svc.SubmitGeneration(c.Request().Context(), roomID, start, end)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, toRequestView(*sr))
	}
}

func submitClosedDatesHandler(svc *requests.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		roomID, ok := roomIDParam(c)
		if !ok {
			return badRequest(c, "invalid room id")
		}
		var req closedDatesReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "bad request")
		}

		sr, err := svc.SubmitClosedDates(c.Request().Context(), roomID, req.ClosedDates)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, toRequestView(*sr))
	}
}

func getRequestHandler(svc *requests.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		sr, err := svc.GetRequest(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toRequestView(*sr))
	}
}
