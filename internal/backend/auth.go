package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidCredentials is returned when the backend rejects a sign in.
var ErrInvalidCredentials = errors.New("backend: invalid credentials")

// User is the backend auth user.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Session is an auth session issued by the backend.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	sess, err := c.token(ctx, "password", body)
	if err != nil {
		var be *Error
		if errors.As(err, &be) && (be.Status == http.StatusBadRequest || be.Status == http.StatusUnauthorized) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return sess, nil
}

// RefreshSession rotates the access token.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	return c.token(ctx, "refresh_token", body)
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	_, err := c.do(callCtx, request{method: http.MethodPost, url: c.authURL + "/logout", bearer: accessToken})
	return c.finish(ctx, callCtx, err)
}

func (c *Client) token(ctx context.Context, grant string, body []byte) (*Session, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	start := time.Now()
	payload, err := c.do(callCtx, request{
		method: http.MethodPost,
		url:    c.authURL + "/token?grant_type=" + grant,
		body:   body,
		bearer: c.cfg.AnonKey,
	})
	err = c.finish(ctx, callCtx, err)
	c.observe("auth:"+grant, err, start)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("backend: decode session: %w", err)
	}
	if sess.AccessToken == "" {
		return nil, errors.New("backend: empty access token")
	}
	return &sess, nil
}
