// Package uploadhttp exposes the spreadsheet upload pipeline over HTTP.
package uploadhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/upload"
)

const (
	idempotencyModule = "uploads"
	pendingClaim      = "pending"
	formField         = "file"
	multipartOverhead = 1 << 20
)

// Service is the upload contract used by the handler.
type Service interface {
	Start(ctx context.Context, kind upload.Kind, filename string, content []byte, actorID string) (upload.Progress, error)
	Get(ctx context.Context, id string) (upload.Progress, error)
	Limits() upload.Limits
}

// Handler serves upload endpoints.
type Handler struct {
	logger      *slog.Logger
	service     Service
	idempotency *shared.IdempotencyStore
	audit       *shared.AuditLogger
}

// NewHandler constructs the handler. idempotency and audit may be nil.
func NewHandler(logger *slog.Logger, service Service, idempotency *shared.IdempotencyStore, audit *shared.AuditLogger) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, audit: audit}
}

// MountRoutes registers the upload routes. {ref} is an upload kind on POST
// and an upload ID on GET.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p := shared.PrincipalFromContext(r.Context()); p != nil && p.UserID != "" {
				return "user:" + p.UserID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "upload rate limit exceeded")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(shared.RequireUser(true))
		gr.With(limiter).Post("/{ref}", h.handleUpload)
		gr.Get("/{ref}", h.handleStatus)
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	kind := upload.Kind(chi.URLParam(r, "ref"))
	if _, err := upload.MappingFor(kind); err != nil {
		h.fail(w, err)
		return
	}
	filename, content, err := h.readFile(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	key := r.Header.Get(shared.IdempotencyHeader)
	if key != "" && h.idempotency != nil {
		existing, claimed, err := h.idempotency.Claim(r.Context(), idempotencyModule, key, pendingClaim)
		if err != nil {
			h.logger.Error("claim idempotency key", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if !claimed {
			h.replay(w, r, existing)
			return
		}
	}

	var actorID string
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		actorID = p.UserID
		if p.Machine {
			actorID = "ingest"
		}
	}
	progress, err := h.service.Start(r.Context(), kind, filename, content, actorID)
	if err != nil {
		if key != "" && h.idempotency != nil {
			_ = h.idempotency.Delete(r.Context(), idempotencyModule, key)
		}
		h.fail(w, err)
		return
	}
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Update(r.Context(), idempotencyModule, key, progress.ID); err != nil {
			h.logger.Warn("store idempotency result", slog.Any("error", err))
		}
	}
	if h.audit != nil {
		_ = h.audit.Record(r.Context(), shared.AuditLog{
			ActorID:  actorID,
			Action:   "upload.start",
			Entity:   progress.Table,
			EntityID: progress.ID,
			Meta:     map[string]any{"filename": filename, "rows": progress.Total},
		})
	}
	w.Header().Set("Location", "/api/uploads/"+progress.ID)
	httpx.JSON(w, http.StatusAccepted, progress)
}

// replay answers a repeated request with the upload it started.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, existing string) {
	if existing == pendingClaim {
		httpx.RespondError(w, fmt.Errorf("%w: upload with this idempotency key is still being accepted", httpx.ErrConflict))
		return
	}
	progress, err := h.service.Get(r.Context(), existing)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, progress)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		upload.Progress
		Percent float64 `json:"percent"`
	}{progress, progress.Percent()})
}

func (h *Handler) readFile(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	maxBytes := h.service.Limits().MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	file, header, err := r.FormFile(formField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, fmt.Errorf("%w: %v", httpx.ErrTooLarge, err)
		}
		return "", nil, fmt.Errorf("%w: multipart field %q required", httpx.ErrValidation, formField)
	}
	defer file.Close()
	if header.Size > maxBytes {
		return "", nil, fmt.Errorf("%w: %d bytes exceeds %d", httpx.ErrTooLarge, header.Size, maxBytes)
	}
	content, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(content)) > maxBytes {
		return "", nil, fmt.Errorf("%w: file exceeds %d bytes", httpx.ErrTooLarge, maxBytes)
	}
	return header.Filename, content, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var rowErrs *upload.RowErrors
	switch {
	case errors.As(err, &rowErrs):
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"title":  "Invalid Rows",
			"status": http.StatusUnprocessableEntity,
			"detail": fmt.Sprintf("%d invalid cells", rowErrs.Total),
			"errors": rowErrs.Errors,
		})
	case errors.Is(err, upload.ErrUploadNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: upload", httpx.ErrNotFound))
	case errors.Is(err, upload.ErrUnsupportedType):
		httpx.Problem(w, http.StatusUnsupportedMediaType, "Unsupported Media Type", err.Error())
	case errors.Is(err, upload.ErrFileTooLarge):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrTooLarge, err))
	case errors.Is(err, upload.ErrUnknownKind),
		errors.Is(err, upload.ErrMissingColumn),
		errors.Is(err, upload.ErrTooManyRows),
		errors.Is(err, upload.ErrEmptyFile):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrTooLarge) {
			h.logger.Error("upload request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
