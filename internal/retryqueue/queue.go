package retryqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/angelmondragon/connect-reconciler/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	baseBackoff        = 900 * time.Second
	defaultMaxAttempts = 3
	defaultLeaseTTL    = 5 * time.Minute
)

// Backoff is the delay before the next attempt once attempts failures have happened.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	return time.Duration(float64(baseBackoff) * math.Pow(4, float64(attempts)))
}

// Stats summarizes one drain pass.
type Stats struct {
	Processed int   `json:"processed"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Requeued  int   `json:"requeued"`
	Dropped   int   `json:"dropped"`
	Skipped   int   `json:"skipped"`
	Remaining int64 `json:"remaining"`
}

type Params struct {
	DB                 *gorm.DB
	Registry           *Registry
	Logger             *logger.Logger
	Metrics            *metrics.RetryQueueMetrics
	LeaseTTL           time.Duration
	DefaultMaxAttempts int
	Clock              func() time.Time
}

// Queue is the durable retry queue shared by every retry-eligible operation kind.
type Queue struct {
	repo               *Repository
	registry           *Registry
	logg               *logger.Logger
	metrics            *metrics.RetryQueueMetrics
	leaseTTL           time.Duration
	defaultMaxAttempts int
	now                func() time.Time
}

func New(p Params) (*Queue, error) {
	if p.DB == nil {
		return nil, errors.New("retry queue db required")
	}
	if p.Registry == nil {
		p.Registry = NewRegistry()
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = defaultLeaseTTL
	}
	if p.DefaultMaxAttempts <= 0 {
		p.DefaultMaxAttempts = defaultMaxAttempts
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &Queue{
		repo:               NewRepository(p.DB),
		registry:           p.Registry,
		logg:               p.Logger,
		metrics:            p.Metrics,
		leaseTTL:           p.LeaseTTL,
		defaultMaxAttempts: p.DefaultMaxAttempts,
		now:                func() time.Time { return p.Clock().UTC() },
	}, nil
}

// Registry exposes the handler registry so services can register after construction.
func (q *Queue) Registry() *Registry {
	return q.registry
}

// Enqueue stores a failed operation for replay in 15 minutes. maxAttempts <= 0 uses the default.
func (q *Queue) Enqueue(ctx context.Context, kind enums.RetryOperationKind, payload any, cause error, maxAttempts int) (string, error) {
	if kind == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "retry kind required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode retry payload")
	}
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}

	now := q.now()
	item := &models.RetryQueueItem{
		ID:          itemID(kind, raw, now),
		Kind:        kind,
		Payload:     string(raw),
		Attempts:    0,
		MaxAttempts: maxAttempts,
		NextRetryAt: now.Add(Backoff(0)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cause != nil {
		item.LastError = cause.Error()
	}
	if err := q.repo.Insert(ctx, item); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue retry item")
	}

	q.metrics.Observe(string(kind), metrics.RetryEnqueued)
	q.logg.Info(q.logg.WithFields(ctx, map[string]any{
		"retry_id":      item.ID,
		"retry_kind":    string(kind),
		"next_retry_at": item.NextRetryAt,
	}), "operation queued for retry")
	return item.ID, nil
}

// Drain claims up to limit items and replays the ones that are due.
func (q *Queue) Drain(ctx context.Context, limit int) (Stats, error) {
	var stats Stats
	if limit <= 0 {
		return stats, pkgerrors.New(pkgerrors.CodeValidation, "drain limit must be positive")
	}

	now := q.now()
	owner := uuid.NewString()
	candidates, err := q.repo.Candidates(ctx, now, limit)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load retry candidates")
	}

	for _, item := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := q.claimAndProcess(ctx, item.ID, owner, now, &stats); err != nil {
			return stats, err
		}
	}

	remaining, err := q.repo.Count(ctx)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count retry items")
	}
	stats.Remaining = remaining
	q.metrics.SetRemaining(remaining)
	return stats, nil
}

// claimAndProcess leases one candidate and replays it when due. The row is
// re-read after the claim since another drainer may have run it in between.
func (q *Queue) claimAndProcess(ctx context.Context, id, owner string, now time.Time, stats *Stats) error {
	claimed, err := q.repo.Claim(ctx, id, owner, now, q.leaseTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim retry item")
	}
	if !claimed {
		return nil
	}
	item, err := q.repo.Get(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load claimed retry item")
	}
	if item == nil {
		return nil
	}
	if item.NextRetryAt.After(now) {
		if err := q.repo.Release(ctx, id, owner); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release retry item")
		}
		stats.Skipped++
		return nil
	}

	stats.Processed++
	return q.process(ctx, *item, owner, now, stats)
}

func (q *Queue) process(ctx context.Context, item models.RetryQueueItem, owner string, now time.Time, stats *Stats) error {
	logCtx := q.logg.WithFields(ctx, map[string]any{
		"retry_id":   item.ID,
		"retry_kind": string(item.Kind),
		"attempts":   item.Attempts,
	})

	runErr := q.run(ctx, item)
	if runErr == nil {
		if err := q.repo.Delete(ctx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete retry item")
		}
		stats.Succeeded++
		q.metrics.Observe(string(item.Kind), metrics.RetrySucceeded)
		q.logg.Info(logCtx, "retry succeeded")
		return nil
	}

	stats.Failed++
	attempts := item.Attempts + 1
	if attempts >= item.MaxAttempts {
		err := q.repo.MoveToDropped(ctx, models.RetryQueueDropped{
			ID:          item.ID,
			Kind:        item.Kind,
			Payload:     item.Payload,
			LastError:   runErr.Error(),
			Attempts:    attempts,
			MaxAttempts: item.MaxAttempts,
			EnqueuedAt:  item.CreatedAt,
			DroppedAt:   now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop retry item")
		}
		stats.Dropped++
		q.metrics.Observe(string(item.Kind), metrics.RetryDropped)
		q.logg.Warn(q.logg.WithFields(logCtx, map[string]any{
			"attempts": attempts,
			"error":    runErr.Error(),
		}), "dropped")
		return nil
	}

	next := now.Add(Backoff(attempts))
	if err := q.repo.Reschedule(ctx, item.ID, owner, attempts, runErr.Error(), next, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reschedule retry item")
	}
	stats.Requeued++
	q.metrics.Observe(string(item.Kind), metrics.RetryRequeued)
	q.logg.Info(q.logg.WithFields(logCtx, map[string]any{
		"attempts":      attempts,
		"next_retry_at": next,
		"error":         runErr.Error(),
	}), "retry requeued")
	return nil
}

func (q *Queue) run(ctx context.Context, item models.RetryQueueItem) (err error) {
	fn, ok := q.registry.Lookup(item.Kind)
	if !ok {
		return fmt.Errorf("no retry handler registered for kind %q", item.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retry handler panic: %v", r)
		}
	}()
	return fn(ctx, json.RawMessage(item.Payload))
}

// ListDropped returns the most recently dropped operations for operators.
func (q *Queue) ListDropped(ctx context.Context, limit int) ([]models.RetryQueueDropped, error) {
	rows, err := q.repo.ListDropped(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dropped retry items")
	}
	return rows, nil
}

// Pending counts items still waiting in the queue.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	n, err := q.repo.Count(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count retry items")
	}
	return n, nil
}

func itemID(kind enums.RetryOperationKind, payload []byte, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write(payload)
	h.Write([]byte(strconv.FormatInt(at.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
