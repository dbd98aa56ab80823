package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/service/management"
	echo "github.com/labstack/echo/v4"
)

type cancelReservationReq struct {
	Reason string `json:"reason"`
}

func confirmReservationHandler(svc *management.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		resID, err := model.ParseReservationID(c.Param("reservationId"))
		if err != nil {
			return writeError(c, err)
		}
		n, err := svc.ConfirmAllByReservation(c.Request().Context(), resID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"reservationId": strconv.FormatInt(resID, 10),
			"confirmed":     n,
		})
	}
}

func cancelReservationHandler(svc *management.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		resID, err := model.ParseReservationID(c.Param("reservationId"))
		if err != nil {
			return writeError(c, err)
		}
		var req cancelReservationReq
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return badRequest(c, "bad request")
			}
		}
		n, err := svc.CancelAllByReservation(c.Request().Context(), resID, strings.TrimSpace(req.Reason))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"reservationId": strconv.FormatInt(resID, 10),
			"cancelled":     n,
		})
	}
}
