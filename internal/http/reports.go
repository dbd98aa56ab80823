package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository"
	echo "github.com/labstack/echo/v4"
)

type outboxView struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	AggregateType string     `json:"aggregateType"`
	AggregateID   string     `json:"aggregateId"`
	EventType     string     `json:"eventType"`
	Topic         string     `json:"topic"`
	Payload       rawJSON    `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retryCount"`
	LastError     *string    `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
}

// rawJSON embeds a stored payload as-is.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func pageParams(c echo.Context) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func aggregateParams(c echo.Context) (string, string, bool) {
	aggType := strings.TrimSpace(c.QueryParam("aggregateType"))
	aggID := strings.TrimSpace(c.QueryParam("aggregateId"))
	if aggType != model.AggregateSlot && aggType != model.AggregateSlotRequest {
		return "", "", false
	}
	return aggType, aggID, aggID != ""
}

func listOutboxHandler(repo repository.OutboxRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		aggType, aggID, ok := aggregateParams(c)
		if !ok {
			return badRequest(c, "aggregateType (slot|slot_request) and aggregateId are required")
		}
		limit, _ := pageParams(c)

		entries, err := repo.ListByAggregate(c.Request().Context(), aggType, aggID, limit)
		if err != nil {
			return writeError(c, err)
		}
		out := make([]outboxView, 0, len(entries))
		for _, e := range entries {
			out = append(out, outboxView{
				ID:            strconv.FormatInt(e.ID, 10),
				EventID:       e.EventID,
				AggregateType: e.AggregateType,
				AggregateID:   e.AggregateID,
				EventType:     e.EventType,
				Topic:         e.Topic,
				Payload:       rawJSON(e.Payload),
				Status:        e.Status.String(),
				RetryCount:    e.RetryCount,
				LastError:     e.LastError,
				CreatedAt:     e.CreatedAt.UTC(),
				PublishedAt:   e.PublishedAt,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"count": len(out), "results": out})
	}
}

// listArchivedEventsHandler reads published events from ClickHouse.
func listArchivedEventsHandler(archive repository.EventArchive) echo.HandlerFunc {
	return func(c echo.Context) error {
		if archive == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event archive not configured"})
		}
		aggType, aggID, ok := aggregateParams(c)
		if !ok {
			return badRequest(c, "aggregateType (slot|slot_request) and aggregateId are required")
		}
		limit, offset := pageParams(c)

		events, err := archive.ListByAggregate(c.Request().Context(), aggType, aggID, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
