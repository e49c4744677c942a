package dashboardhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

// MountRoutes registers the dashboard endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	exportLimiter := httprate.Limit(20, time.Minute,
		httprate.WithKeyFuncs(RateLimitKey),
		httprate.WithLimitHandler(tooManyRequests),
	)
	refreshLimiter := httprate.Limit(3, time.Minute,
		httprate.WithKeyFuncs(RateLimitKey),
		httprate.WithLimitHandler(tooManyRequests),
	)

	r.Group(func(gr chi.Router) {
		gr.Use(shared.RequireUser(false))
		gr.Get("/resumo", h.handleResumo)
		gr.Get("/utr", h.handleUTR)
		gr.Get("/entregadores", h.handleEntregadores)
		gr.Get("/marketing", h.handleMarketing)
		gr.Get("/weeks", h.handleWeeks)
		gr.Get("/years", h.handleYears)
		gr.Get("/filters", h.handleFilters)
		gr.Get("/compare", h.handleCompare)
		gr.Group(func(ex chi.Router) {
			ex.Use(exportLimiter)
			ex.Get("/entregadores.csv", h.handleEntregadoresCSV)
			ex.Get("/compare.csv", h.handleCompareCSV)
		})
	})
	r.Group(func(gr chi.Router) {
		gr.Use(shared.RequireAdmin, refreshLimiter)
		gr.Post("/refresh", h.handleRefresh)
	})
}

// RateLimitKey buckets requests by signed-in user, falling back to the client IP.
func RateLimitKey(r *http.Request) (string, error) {
	if p := shared.PrincipalFromContext(r.Context()); p != nil && p.UserID != "" {
		return "user:" + p.UserID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded, retry later")
}
