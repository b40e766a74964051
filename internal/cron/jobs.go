package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/connect-reconciler/internal/retryqueue"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/internal/vendors"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

type vendorSweeper interface {
	VerifyVendorAccounts(ctx context.Context, limit int) (vendors.SweepStats, error)
}

type queueDrainer interface {
	Drain(ctx context.Context, limit int) (retryqueue.Stats, error)
}

type keyVerifier interface {
	Verify(ctx context.Context) (state.APIKeyStatus, error)
}

// NewVendorSweepJob reconciles one page of vendor accounts per run.
func NewVendorSweepJob(sweeper vendorSweeper, limit int, logg *logger.Logger) (Job, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("vendor sweeper required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("sweep limit must be positive")
	}
	return &vendorSweepJob{sweeper: sweeper, limit: limit, logg: logg}, nil
}

type vendorSweepJob struct {
	sweeper vendorSweeper
	limit   int
	logg    *logger.Logger
}

func (j *vendorSweepJob) Name() string { return "vendor-sweep" }

func (j *vendorSweepJob) Run(ctx context.Context) error {
	stats, err := j.sweeper.VerifyVendorAccounts(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("vendor sweep: %w", err)
	}
	if stats.Errors > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "errors", stats.Errors), "vendor sweep had per-vendor failures")
	}
	return nil
}

// NewRetryDrainJob replays due retry queue items.
func NewRetryDrainJob(queue queueDrainer, limit int, logg *logger.Logger) (Job, error) {
	if queue == nil {
		return nil, fmt.Errorf("retry queue required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("drain limit must be positive")
	}
	return &retryDrainJob{queue: queue, limit: limit, logg: logg}, nil
}

type retryDrainJob struct {
	queue queueDrainer
	limit int
	logg  *logger.Logger
}

func (j *retryDrainJob) Name() string { return "retry-drain" }

func (j *retryDrainJob) Run(ctx context.Context) error {
	stats, err := j.queue.Drain(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("retry drain: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"processed": stats.Processed,
		"succeeded": stats.Succeeded,
		"requeued":  stats.Requeued,
		"dropped":   stats.Dropped,
		"remaining": stats.Remaining,
	}), "retry drain complete")
	return nil
}

// NewAPIKeyCheckJob probes the provider key. A rejected key is recorded by
// the verifier and does not fail the job.
func NewAPIKeyCheckJob(verifier keyVerifier, logg *logger.Logger) (Job, error) {
	if verifier == nil {
		return nil, fmt.Errorf("api key verifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &apiKeyCheckJob{verifier: verifier, logg: logg}, nil
}

type apiKeyCheckJob struct {
	verifier keyVerifier
	logg     *logger.Logger
}

func (j *apiKeyCheckJob) Name() string { return "api-key-check" }

func (j *apiKeyCheckJob) Run(ctx context.Context) error {
	status, err := j.verifier.Verify(ctx)
	if err != nil {
		return fmt.Errorf("api key check: %w", err)
	}
	if status.Status != enums.APIKeyValid {
		j.logg.Warn(j.logg.WithField(ctx, "failures", status.Failures), "stripe api key still invalid")
	}
	return nil
}
