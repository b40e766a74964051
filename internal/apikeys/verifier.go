package apikeys

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/connect-reconciler/internal/notifications"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
)

// notifyEvery throttles repeat alerts while the key stays broken.
const notifyEvery = 10

type statusStore interface {
	APIKeyStatus(ctx context.Context) (state.APIKeyStatus, error)
	SaveAPIKeyStatus(ctx context.Context, status state.APIKeyStatus) error
}

type VerifierParams struct {
	Provider stripeclient.Client
	Store    statusStore
	Notifier notifications.Notifier
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Verifier probes the provider API key with a cheap balance read and keeps
// the outcome in the shared state store.
type Verifier struct {
	provider stripeclient.Client
	store    statusStore
	notifier notifications.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewVerifier(p VerifierParams) (*Verifier, error) {
	if p.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("state store required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{
		provider: p.Provider,
		store:    p.Store,
		notifier: p.Notifier,
		logg:     p.Logger,
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

// Status returns the last stored verification outcome.
func (v *Verifier) Status(ctx context.Context) (state.APIKeyStatus, error) {
	return v.store.APIKeyStatus(ctx)
}

// Verify runs one probe. A failed probe is recorded, not returned; the
// error result only reports state store problems.
func (v *Verifier) Verify(ctx context.Context) (state.APIKeyStatus, error) {
	prev, err := v.store.APIKeyStatus(ctx)
	if err != nil {
		return state.APIKeyStatus{}, err
	}

	now := v.now()
	next := prev
	next.LastChecked = &now

	_, probeErr := v.provider.RetrieveBalance(ctx, stripeclient.Options{})
	if probeErr == nil {
		if prev.Status == enums.APIKeyInvalid {
			v.logg.Info(v.logg.WithField(ctx, "previous_failures", prev.Failures), "stripe api key recovered")
		}
		next.Status = enums.APIKeyValid
		next.Failures = 0
		next.LastSuccess = &now
		next.Error = ""
		return next, v.store.SaveAPIKeyStatus(ctx, next)
	}

	next.Status = enums.APIKeyInvalid
	next.Failures = prev.Failures + 1
	next.LastFailure = &now
	next.Error = probeErr.Error()
	v.logg.Error(v.logg.WithField(ctx, "failures", next.Failures), "stripe api key verification failed", probeErr)

	if err := v.store.SaveAPIKeyStatus(ctx, next); err != nil {
		return next, err
	}
	if shouldNotify(next.Failures) && v.notifier != nil {
		msg := notifications.APIKeyFailure(next.Failures, next.Error, now)
		if err := v.notifier.Notify(ctx, msg); err != nil {
			v.logg.Error(ctx, "api key failure notification failed", err)
		}
	}
	return next, nil
}

func shouldNotify(failures int) bool {
	return failures == 1 || (failures > 0 && failures%notifyEvery == 0)
}
