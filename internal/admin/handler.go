package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

// Handler exposes user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers admin routes. Every route requires an administrator.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(shared.RequireAdmin)
	r.Get("/users", h.listUsers)
	r.Get("/users/pending", h.listPending)
	r.Post("/users/{id}/approve", h.approve)
	r.Post("/users/{id}/revoke", h.revoke)
	r.Post("/users/{id}/admin", h.setAdmin)
	r.Post("/users/{id}/pracas", h.updatePracas)
}

type listResponse struct {
	Users      []Profile         `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	users, meta, err := h.service.ListUsers(backendContext(r), page, perPage)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Users: users, Pagination: meta})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListPending(backendContext(r))
	if err != nil {
		h.fail(w, "list pending users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var in ApproveInput
	if !h.decode(w, r, &in) {
		return
	}
	in.UserID = chi.URLParam(r, "id")
	if err := h.service.Approve(backendContext(r), actor(r), in); err != nil {
		h.fail(w, "approve user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Revoke(backendContext(r), actor(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "revoke user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setAdmin(w http.ResponseWriter, r *http.Request) {
	var in AdminInput
	if !h.decode(w, r, &in) {
		return
	}
	in.UserID = chi.URLParam(r, "id")
	if err := h.service.SetAdmin(backendContext(r), actor(r), in); err != nil {
		h.fail(w, "set user admin", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updatePracas(w http.ResponseWriter, r *http.Request) {
	var in PracasInput
	if !h.decode(w, r, &in) {
		return
	}
	in.UserID = chi.URLParam(r, "id")
	if err := h.service.UpdatePracas(backendContext(r), actor(r), in); err != nil {
		h.fail(w, "update user pracas", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func actor(r *http.Request) string {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return p.UserID
	}
	return ""
}

func backendContext(r *http.Request) context.Context {
	ctx := r.Context()
	if p := shared.PrincipalFromContext(ctx); p != nil {
		ctx = backend.ContextWithAccessToken(ctx, p.AccessToken)
	}
	return ctx
}
