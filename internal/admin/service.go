package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

var validate = validator.New()

// ErrSelfDemotion stops an administrator from removing their own flag.
var ErrSelfDemotion = errors.New("admin: cannot remove your own administrator access")

// Service applies user management rules and records an audit trail.
type Service struct {
	repo   Repository
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs the admin service.
func NewService(repo Repository, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// CurrentProfile returns the caller's profile.
func (s *Service) CurrentProfile(ctx context.Context) (Profile, error) {
	return s.repo.CurrentProfile(ctx)
}

// ListUsers returns one page of users ordered by email.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]Profile, shared.Pagination, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	slices.SortFunc(users, func(a, b Profile) int { return strings.Compare(a.Email, b.Email) })
	meta := shared.NewPagination(page, perPage, len(users))
	start, end := meta.Bounds()
	return users[start:end], meta, nil
}

// ListPending returns users awaiting approval.
func (s *Service) ListPending(ctx context.Context) ([]Profile, error) {
	return s.repo.ListPending(ctx)
}

// Approve grants access to a pending user.
func (s *Service) Approve(ctx context.Context, actorID string, in ApproveInput) error {
	in.Pracas = cleanPracas(in.Pracas)
	if err := check(in); err != nil {
		return err
	}
	if err := s.repo.Approve(ctx, in.UserID, in.Pracas); err != nil {
		return err
	}
	return s.record(ctx, actorID, "user.approve", in.UserID, map[string]any{"pracas": in.Pracas})
}

// Revoke removes a user's access.
func (s *Service) Revoke(ctx context.Context, actorID, userID string) error {
	if err := validate.Var(userID, "required,uuid"); err != nil {
		return fmt.Errorf("%w: user id", httpx.ErrValidation)
	}
	if err := s.repo.Revoke(ctx, userID); err != nil {
		return err
	}
	return s.record(ctx, actorID, "user.revoke", userID, nil)
}

// SetAdmin toggles the administrator flag.
func (s *Service) SetAdmin(ctx context.Context, actorID string, in AdminInput) error {
	if err := check(in); err != nil {
		return err
	}
	if in.UserID == actorID && !in.IsAdmin {
		return fmt.Errorf("%w: %w", httpx.ErrConflict, ErrSelfDemotion)
	}
	if err := s.repo.SetAdmin(ctx, in.UserID, in.IsAdmin); err != nil {
		return err
	}
	return s.record(ctx, actorID, "user.set_admin", in.UserID, map[string]any{"is_admin": in.IsAdmin})
}

// UpdatePracas replaces a user's praça assignment. An empty list grants
// every praça.
func (s *Service) UpdatePracas(ctx context.Context, actorID string, in PracasInput) error {
	in.Pracas = cleanPracas(in.Pracas)
	if err := check(in); err != nil {
		return err
	}
	if err := s.repo.UpdatePracas(ctx, in.UserID, in.Pracas); err != nil {
		return err
	}
	return s.record(ctx, actorID, "user.update_pracas", in.UserID, map[string]any{"pracas": in.Pracas})
}

func (s *Service) record(ctx context.Context, actorID, action, userID string, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "user", EntityID: userID, Meta: meta}); err != nil {
		s.logger.Warn("audit admin action", slog.String("action", action), slog.Any("error", err))
	}
	return nil
}

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", httpx.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

// cleanPracas trims and deduplicates praça names.
func cleanPracas(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}
