// Package placeinfo reads room attributes owned by the place service.
package placeinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/room-slots/internal/config"
	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var errNoUnit = errors.New("room has no slot unit")

// Client fetches the slot unit of a room over HTTP behind a circuit breaker.
// Rooms unknown to the place service, and every room when no base URL is
// configured, use the default unit.
type Client struct {
	baseURL  string
	http     *http.Client
	cb       *gobreaker.CircuitBreaker
	fallback model.SlotUnit
	log      *zap.Logger
}

type slotUnitResponse struct {
	SlotUnit string `json:"slotUnit"`
}

func NewClient(cfg config.PlaceInfoConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	threshold := cfg.Breaker.FailThreshold
	if threshold <= 0 {
		threshold = 5
	}
	openFor := cfg.Breaker.OpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	fallback, ok := model.ParseSlotUnit(cfg.DefaultSlotUnit)
	if !ok {
		fallback = model.SlotUnitHour
	}

	log = logger.Or(log).Named("placeinfo")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "place-info",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		cb:       cb,
		fallback: fallback,
		log:      log,
	}
}

func (c *Client) GetSlotUnit(ctx context.Context, roomID int64) (model.SlotUnit, error) {
	if c.baseURL == "" {
		return c.fallback, nil
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, roomID)
	})
	if err != nil {
		return "", fmt.Errorf("slot unit of room %d: %w", roomID, err)
	}

	unit := res.(model.SlotUnit)
	if unit == "" {
		return c.fallback, nil
	}
	return unit, nil
}

// fetch returns an empty unit, not an error, for rooms the place service
// does not know, so they do not count against the breaker.
func (c *Client) fetch(ctx context.Context, roomID int64) (model.SlotUnit, error) {
	url := c.baseURL + "/api/v1/rooms/" + strconv.FormatInt(roomID, 10) + "/slot-unit"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("place service status=%d", resp.StatusCode)
	}

	var body slotUnitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode slot unit: %w", err)
	}
	unit, ok := model.ParseSlotUnit(body.SlotUnit)
	if !ok {
		return "", fmt.Errorf("%w: %q", errNoUnit, body.SlotUnit)
	}
	return unit, nil
}
