package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/connect-reconciler/api/responses"
	"github.com/angelmondragon/connect-reconciler/api/validators"
	"github.com/angelmondragon/connect-reconciler/internal/retryqueue"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/internal/vendors"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

type VendorSweeper interface {
	VerifyVendorAccounts(ctx context.Context, limit int) (vendors.SweepStats, error)
	DeletedAccounts(ctx context.Context) ([]state.DeletedAccount, error)
}

type RetryQueueAdmin interface {
	Drain(ctx context.Context, limit int) (retryqueue.Stats, error)
	ListDropped(ctx context.Context, limit int) ([]models.RetryQueueDropped, error)
}

type APIKeyStatusReader interface {
	Status(ctx context.Context) (state.APIKeyStatus, error)
}

func AdminDeletedAccounts(svc VendorSweeper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		entries, err := svc.DeletedAccounts(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if entries == nil {
			entries = []state.DeletedAccount{}
		}
		responses.WriteSuccess(w, map[string]any{"accounts": entries, "count": len(entries)})
	}
}

func AdminAPIKeyStatus(svc APIKeyStatusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status, err := svc.Status(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// AdminSweepVendors runs one sweep page on demand. Per-vendor failures are
// counted in the stats rather than failing the request.
func AdminSweepVendors(svc VendorSweeper, defaultLimit int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := validators.ParseQueryInt(r, "limit", defaultLimit, 1, 1000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		stats, err := svc.VerifyVendorAccounts(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func AdminDrainRetryQueue(q RetryQueueAdmin, defaultLimit int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := validators.ParseQueryInt(r, "limit", defaultLimit, 1, 1000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		stats, err := q.Drain(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func AdminDroppedRetries(q RetryQueueAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		dropped, err := q.ListDropped(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]droppedRetryResponse, 0, len(dropped))
		for _, d := range dropped {
			out = append(out, newDroppedRetryResponse(d))
		}
		responses.WriteSuccess(w, map[string]any{"dropped": out, "count": len(out)})
	}
}
