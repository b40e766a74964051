package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/angelmondragon/connect-reconciler/pkg/metrics"
)

// HandlerFunc processes one event kind.
type HandlerFunc func(ctx context.Context, event Event) error

// Result reports what Dispatch did with an event.
type Result struct {
	Handled bool
}

// Router dispatches events to the handler registered for their kind.
type Router struct {
	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
	logg     *logger.Logger
	metrics  *metrics.WebhookMetrics
}

func NewRouter(logg *logger.Logger, m *metrics.WebhookMetrics) *Router {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Router{
		handlers: make(map[Kind]HandlerFunc),
		logg:     logg,
		metrics:  m,
	}
}

func (r *Router) Register(kind Kind, fn HandlerFunc) error {
	if kind == KindUnknown || kind == "" {
		return errors.New("cannot register a handler for unknown events")
	}
	if fn == nil {
		return fmt.Errorf("handler for %s is nil", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler for %s already registered", kind)
	}
	r.handlers[kind] = fn
	return nil
}

// Dispatch runs the handler for event.Kind. Events without a handler are
// logged and reported as not handled.
func (r *Router) Dispatch(ctx context.Context, event Event) (Result, error) {
	ctx = r.logg.WithFields(r.logg.WithEventID(ctx, event.ID), map[string]any{
		"event_type": event.RawType,
		"account_id": event.AccountID,
	})

	r.mu.RLock()
	fn, ok := r.handlers[event.Kind]
	r.mu.RUnlock()
	if !ok {
		r.logg.Info(ctx, "unhandled event")
		r.metrics.Observe(event.RawType, metrics.OutcomeIgnored)
		return Result{}, nil
	}

	if err := fn(ctx, event); err != nil {
		r.metrics.Observe(event.RawType, metrics.OutcomeFailed)
		return Result{Handled: true}, err
	}
	r.metrics.Observe(event.RawType, metrics.OutcomeHandled)
	return Result{Handled: true}, nil
}
