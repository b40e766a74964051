package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/connect-reconciler/pkg/enums"
)

// HandlerFunc replays one queued operation from its JSON payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Registry maps operation kinds to replay handlers. New kinds register here
// instead of forking the queue.
type Registry struct {
	mtx      sync.RWMutex
	handlers map[enums.RetryOperationKind]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[enums.RetryOperationKind]HandlerFunc)}
}

func (r *Registry) Register(kind enums.RetryOperationKind, fn HandlerFunc) error {
	if kind == "" {
		return fmt.Errorf("retry kind required")
	}
	if fn == nil {
		return fmt.Errorf("handler required for %s", kind)
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for %s", kind)
	}
	r.handlers[kind] = fn
	return nil
}

func (r *Registry) Lookup(kind enums.RetryOperationKind) (HandlerFunc, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	fn, ok := r.handlers[kind]
	return fn, ok
}
