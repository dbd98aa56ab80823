// Package eventhandler routes inbound broker messages to their handlers.
package eventhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmehdipour/room-slots/internal/model"
)

var ErrDuplicateHandler = errors.New("handler already registered")

// Handler processes the raw payload of one event type.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

type HandlerFunc func(ctx context.Context, payload []byte) error

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// Builder collects handlers at startup. Build freezes them into a Registry.
type Builder struct {
	handlers map[string]Handler
}

func NewBuilder() *Builder {
	return &Builder{handlers: map[string]Handler{}}
}

func (b *Builder) Register(eventType string, h Handler) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || h == nil {
		return fmt.Errorf("register handler: event type and handler are required")
	}
	if _, ok := b.handlers[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, eventType)
	}
	b.handlers[eventType] = h
	return nil
}

// Build returns a registry holding a copy of the registered handlers. Later
// Register calls do not affect it.
func (b *Builder) Build() *Registry {
	m := make(map[string]Handler, len(b.handlers))
	for k, v := range b.handlers {
		m[k] = v
	}
	return &Registry{handlers: m}
}

// Registry is an immutable event-type to handler table, safe for concurrent use.
type Registry struct {
	handlers map[string]Handler
}

func (r *Registry) Lookup(eventType string) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

func (r *Registry) EventTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch reads the eventType tag of payload and runs its handler. It
// returns the event type so callers can label metrics even on failure.
func (r *Registry) Dispatch(ctx context.Context, payload []byte) (string, error) {
	var env model.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	if env.EventType == "" {
		return "", fmt.Errorf("%w: missing eventType", model.ErrMalformedEvent)
	}

	h, ok := r.handlers[env.EventType]
	if !ok {
		return env.EventType, fmt.Errorf("%w: %s", model.ErrUnsupportedEventType, env.EventType)
	}
	return env.EventType, h.Handle(ctx, payload)
}

// IsPoison reports whether err can never succeed on redelivery.
func IsPoison(err error) bool {
	return errors.Is(err, model.ErrMalformedEvent) ||
		errors.Is(err, model.ErrUnsupportedEventType) ||
		errors.Is(err, model.ErrInvalidReservationID) ||
		errors.Is(err, model.ErrRequestNotFound)
}
