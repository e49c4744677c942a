// Package refresh recomputes the dashboard materialized views.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/dashboard"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/db"
)

// FnRefreshViews is the backend function that refreshes every dashboard view.
const FnRefreshViews = "refresh_dashboard_mvs"

// DefaultViews is the refresh order used by PGRefresher. Base views come
// before the views aggregated from them.
var DefaultViews = []string{
	"mv_dashboard_resumo",
	dashboard.WeeksView,
	"mv_utr_semanal",
	dashboard.DriversView,
}

// Refresher recomputes the materialized views.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RPCRefresher asks the backend to refresh its views.
type RPCRefresher struct {
	client *backend.Client
}

// NewRPCRefresher uses the service role of client.
func NewRPCRefresher(client *backend.Client) *RPCRefresher {
	return &RPCRefresher{client: client.Service()}
}

// Refresh calls the refresh function with the long refresh timeout.
func (r *RPCRefresher) Refresh(ctx context.Context) error {
	_, err := r.client.Call(ctx, FnRefreshViews, nil, backend.WithTimeout(r.client.RefreshTimeout()))
	if err != nil {
		return fmt.Errorf("refresh: %s: %w", FnRefreshViews, err)
	}
	return nil
}

// PGRefresher refreshes the views directly over a Postgres connection.
type PGRefresher struct {
	pool    *pgxpool.Pool
	views   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewPGRefresher refreshes views in order. An empty list uses DefaultViews.
func NewPGRefresher(pool *pgxpool.Pool, views []string, logger *slog.Logger) *PGRefresher {
	if len(views) == 0 {
		views = DefaultViews
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGRefresher{pool: pool, views: views, logger: logger}
}

// WithStatementTimeout bounds each view refresh.
func (r *PGRefresher) WithStatementTimeout(d time.Duration) *PGRefresher {
	r.timeout = d
	return r
}

// Refresh runs REFRESH MATERIALIZED VIEW CONCURRENTLY for each view, one
// transaction per view, and stops at the first failure.
func (r *PGRefresher) Refresh(ctx context.Context) error {
	if r.pool == nil {
		return errors.New("refresh: postgres pool not configured")
	}
	for _, view := range r.views {
		stmt := RefreshStatement(view)
		err := db.WithTx(ctx, r.pool, r.timeout, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, stmt)
			return err
		})
		if err != nil {
			r.logger.Error("refresh view", slog.String("view", view), slog.Any("error", err))
			return fmt.Errorf("refresh: %s: %w", view, err)
		}
		r.logger.Info("refreshed view", slog.String("view", view))
	}
	return nil
}

// RefreshStatement quotes a possibly schema-qualified view name.
func RefreshStatement(view string) string {
	ident := pgx.Identifier(strings.Split(strings.TrimSpace(view), "."))
	return "REFRESH MATERIALIZED VIEW CONCURRENTLY " + ident.Sanitize()
}

// Fallback runs primary and, when the backend reports the refresh function
// as missing, secondary.
type Fallback struct {
	Primary   Refresher
	Secondary Refresher
}

// Refresh implements Refresher.
func (f Fallback) Refresh(ctx context.Context) error {
	err := f.Primary.Refresh(ctx)
	if err != nil && f.Secondary != nil && backend.IsNotFound(err) {
		return f.Secondary.Refresh(ctx)
	}
	return err
}
