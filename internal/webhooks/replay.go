package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errBadReplayPayload = errors.New("invalid webhook event payload")

// ReplayPayload is the retry queue payload for webhook_event: enough of the
// verified event to dispatch it again.
type ReplayPayload struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Account  string          `json:"account,omitempty"`
	Created  time.Time       `json:"created"`
	Livemode bool            `json:"livemode"`
	Data     json.RawMessage `json:"data"`
}

func replayPayloadFor(e Event) ReplayPayload {
	return ReplayPayload{
		ID:       e.ID,
		Type:     e.RawType,
		Account:  e.AccountID,
		Created:  e.Created,
		Livemode: e.Livemode,
		Data:     e.Data,
	}
}

// Event rebuilds the dispatchable event.
func (p ReplayPayload) Event() Event {
	return Event{
		ID:        p.ID,
		Kind:      ParseKind(p.Type),
		RawType:   p.Type,
		AccountID: p.Account,
		Created:   p.Created,
		Livemode:  p.Livemode,
		Data:      p.Data,
	}
}

type replayKey struct{}

func withReplay(ctx context.Context) context.Context {
	return context.WithValue(ctx, replayKey{}, true)
}

func isReplay(ctx context.Context) bool {
	v, _ := ctx.Value(replayKey{}).(bool)
	return v
}

// ReplayHandler dispatches a queued event through r again. Handler errors
// are returned to the queue instead of being queued a second time.
func ReplayHandler(r *Router) func(ctx context.Context, payload json.RawMessage) error {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p ReplayPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errBadReplayPayload, err)
		}
		if p.ID == "" || p.Type == "" {
			return errBadReplayPayload
		}
		_, err := r.Dispatch(withReplay(ctx), p.Event())
		return err
	}
}
