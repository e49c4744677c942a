package admin

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
)

// Backend functions behind user management.
const (
	FnCurrentProfile = "get_current_user_profile"
	FnListUsers      = "list_all_users"
	FnListPending    = "list_pending_users"
	FnApprove        = "approve_user"
	FnRevoke         = "revoke_user_access"
	FnSetAdmin       = "set_user_admin"
	FnUpdatePracas   = "update_user_pracas"
)

// Repository persists user profiles.
type Repository interface {
	CurrentProfile(ctx context.Context) (Profile, error)
	ListUsers(ctx context.Context) ([]Profile, error)
	ListPending(ctx context.Context) ([]Profile, error)
	Approve(ctx context.Context, userID string, pracas []string) error
	Revoke(ctx context.Context, userID string) error
	SetAdmin(ctx context.Context, userID string, isAdmin bool) error
	UpdatePracas(ctx context.Context, userID string, pracas []string) error
}

// RPCRepository calls the backend user functions with the caller's token.
type RPCRepository struct {
	client *backend.Client
}

// NewRPCRepository constructs the backend repository.
func NewRPCRepository(client *backend.Client) *RPCRepository {
	return &RPCRepository{client: client}
}

// CurrentProfile loads the profile of the token in ctx.
func (r *RPCRepository) CurrentProfile(ctx context.Context) (Profile, error) {
	payload, err := r.client.Call(ctx, FnCurrentProfile, nil)
	if err != nil {
		return Profile{}, err
	}
	res := backend.Unwrap(payload)
	if !res.IsObject() || res.Get("id").String() == "" {
		return Profile{}, ErrProfileNotFound
	}
	return parseProfile(res), nil
}

// ListUsers returns every profile.
func (r *RPCRepository) ListUsers(ctx context.Context) ([]Profile, error) {
	return r.list(ctx, FnListUsers)
}

// ListPending returns profiles awaiting approval.
func (r *RPCRepository) ListPending(ctx context.Context) ([]Profile, error) {
	return r.list(ctx, FnListPending)
}

// Approve grants access with the given praças.
func (r *RPCRepository) Approve(ctx context.Context, userID string, pracas []string) error {
	_, err := r.client.Call(ctx, FnApprove, map[string]any{"p_user_id": userID, "p_pracas": pracas})
	return err
}

// Revoke removes access.
func (r *RPCRepository) Revoke(ctx context.Context, userID string) error {
	_, err := r.client.Call(ctx, FnRevoke, map[string]any{"p_user_id": userID})
	return err
}

// SetAdmin toggles the administrator flag.
func (r *RPCRepository) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	_, err := r.client.Call(ctx, FnSetAdmin, map[string]any{"p_user_id": userID, "p_is_admin": isAdmin})
	return err
}

// UpdatePracas replaces the praça assignment.
func (r *RPCRepository) UpdatePracas(ctx context.Context, userID string, pracas []string) error {
	_, err := r.client.Call(ctx, FnUpdatePracas, map[string]any{"p_user_id": userID, "p_pracas": pracas})
	return err
}

func (r *RPCRepository) list(ctx context.Context, fn string) ([]Profile, error) {
	payload, err := r.client.Call(ctx, fn, nil)
	if err != nil {
		return nil, err
	}
	rows := backend.Rows(payload, "users")
	out := make([]Profile, 0, len(rows))
	for _, row := range rows {
		out = append(out, parseProfile(row))
	}
	return out, nil
}

func parseProfile(r gjson.Result) Profile {
	p := Profile{
		ID:         r.Get("id").String(),
		Email:      r.Get("email").String(),
		FullName:   r.Get("full_name").String(),
		IsAdmin:    r.Get("is_admin").Bool(),
		IsApproved: r.Get("is_approved").Bool(),
		Pracas:     []string{},
	}
	for _, praca := range r.Get("assigned_pracas").Array() {
		if v := strings.TrimSpace(praca.String()); v != "" {
			p.Pracas = append(p.Pracas, v)
		}
	}
	if ts, ok := parseTime(r.Get("created_at").String()); ok {
		p.CreatedAt = ts
	}
	if ts, ok := parseTime(r.Get("approved_at").String()); ok {
		p.ApprovedAt = &ts
	}
	return p
}

func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
