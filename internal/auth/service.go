// Package auth signs users in against the backend and resolves the caller of
// each request from the session cookie or an ingest bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/admin"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

// Errors surfaced by sign in.
var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", httpx.ErrUnauthorized)
	ErrNotApproved        = fmt.Errorf("%w: account awaiting approval", httpx.ErrForbidden)
)

// Backend is the auth surface of the backend client.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*backend.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// ProfileLoader loads the profile of the token carried by ctx.
type ProfileLoader interface {
	CurrentProfile(ctx context.Context) (admin.Profile, error)
}

// Service wraps authentication business rules.
type Service struct {
	backend  Backend
	profiles ProfileLoader
	now      func() time.Time
}

// NewService constructs a new Service.
func NewService(b Backend, profiles ProfileLoader) *Service {
	return &Service{backend: b, profiles: profiles, now: time.Now}
}

// Login validates credentials and returns the session state of an approved
// user.
func (s *Service) Login(ctx context.Context, email, password string) (shared.SessionAuth, error) {
	sess, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidCredentials) {
			return shared.SessionAuth{}, ErrInvalidCredentials
		}
		return shared.SessionAuth{}, err
	}
	return s.authFrom(ctx, sess)
}

// Refresh rotates an expired access token. The profile is reloaded so that
// revoked access and praça changes apply on the next request.
func (s *Service) Refresh(ctx context.Context, current shared.SessionAuth) (shared.SessionAuth, error) {
	if current.RefreshToken == "" {
		return shared.SessionAuth{}, ErrInvalidCredentials
	}
	sess, err := s.backend.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		return shared.SessionAuth{}, err
	}
	return s.authFrom(ctx, sess)
}

// credentialFailure reports whether a refresh error means the session can no
// longer be renewed. Timeouts and backend outages are not.
func credentialFailure(err error) bool {
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNotApproved) || errors.Is(err, backend.ErrInvalidCredentials) {
		return true
	}
	var be *backend.Error
	if errors.As(err, &be) {
		switch be.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}

// Logout revokes the backend session.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return s.backend.SignOut(ctx, accessToken)
}

func (s *Service) authFrom(ctx context.Context, sess *backend.Session) (shared.SessionAuth, error) {
	profile, err := s.profiles.CurrentProfile(backend.ContextWithAccessToken(ctx, sess.AccessToken))
	if err != nil {
		if errors.Is(err, admin.ErrProfileNotFound) {
			return shared.SessionAuth{}, ErrNotApproved
		}
		return shared.SessionAuth{}, err
	}
	if !profile.IsApproved && !profile.IsAdmin {
		return shared.SessionAuth{}, ErrNotApproved
	}
	a := shared.SessionAuth{
		UserID:       profile.ID,
		Email:        profile.Email,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		IsAdmin:      profile.IsAdmin,
		Pracas:       profile.Pracas,
	}
	switch {
	case sess.ExpiresAt > 0:
		a.ExpiresAt = time.Unix(sess.ExpiresAt, 0)
	case sess.ExpiresIn > 0:
		a.ExpiresAt = s.now().Add(time.Duration(sess.ExpiresIn) * time.Second)
	}
	if a.Email == "" && sess.User != nil {
		a.Email = sess.User.Email
	}
	return a, nil
}
