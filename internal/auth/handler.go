package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.With(shared.RequireUser(true)).Get("/me", h.handleMe)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type userResponse struct {
	ID      string   `json:"id"`
	Email   string   `json:"email,omitempty"`
	IsAdmin bool     `json:"is_admin"`
	Pracas  []string `json:"pracas"`
	Machine bool     `json:"machine,omitempty"`
}

type loginResponse struct {
	User      userResponse `json:"user"`
	CSRFToken string       `json:"csrf_token"`
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, errors.New("session missing"))
		return
	}
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	form.Email = strings.ToLower(strings.TrimSpace(form.Email))
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.ToLower(fieldErrs[0].Field())+" is invalid")
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	a, err := h.service.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		h.logger.Info("login failed", slog.String("email", form.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.sessionManager.Renew(sess)
	sess.SetAuth(a)
	token, err := h.csrfManager.Rotate(r.Context(), sess)
	if err != nil {
		h.logger.Error("rotate csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("user signed in", slog.String("user_id", a.UserID))
	httpx.JSON(w, http.StatusOK, loginResponse{
		User:      userResponse{ID: a.UserID, Email: a.Email, IsAdmin: a.IsAdmin, Pracas: nonNil(a.Pracas)},
		CSRFToken: token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if a, ok := sess.Auth(); ok {
		if err := h.service.Logout(r.Context(), a.AccessToken); err != nil {
			h.logger.Warn("backend sign out", slog.Any("error", err))
		}
	}
	h.sessionManager.Destroy(sess)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, userResponse{
		ID:      p.UserID,
		Email:   p.Email,
		IsAdmin: p.IsAdmin,
		Pracas:  nonNil(p.Pracas),
		Machine: p.Machine,
	})
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
