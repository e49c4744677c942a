package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/shared"
)

// IngestActor is the actor recorded for machine uploads.
const IngestActor = "ingest"

const refreshSkew = 30 * time.Second

// Middleware resolves the request principal.
type Middleware struct {
	service    *Service
	sessions   *shared.SessionManager
	ingestHash []byte
	logger     *slog.Logger
	now        func() time.Time
}

// NewMiddleware builds the principal middleware. An empty ingestHash
// disables bearer authentication.
func NewMiddleware(service *Service, sessions *shared.SessionManager, ingestHash string, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		service:    service,
		sessions:   sessions,
		ingestHash: []byte(strings.TrimSpace(ingestHash)),
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest authenticates `Authorization: Bearer` requests against the bcrypt
// hash of the ingest token.
func (m *Middleware) Ingest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if len(m.ingestHash) == 0 || bcrypt.CompareHashAndPassword(m.ingestHash, []byte(token)) != nil {
			m.logger.Warn("ingest token rejected", slog.String("path", r.URL.Path))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
			return
		}
		p := &shared.Principal{UserID: IngestActor, Machine: true}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

// Session turns the signed-in session into the request principal, refreshing
// the access token shortly before it expires. A refresh the backend rejects
// signs the user out; a transient failure keeps the session for a retry.
func (m *Middleware) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if shared.PrincipalFromContext(ctx) != nil {
			next.ServeHTTP(w, r)
			return
		}
		sess := shared.SessionFromContext(ctx)
		a, ok := sess.Auth()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if !a.ExpiresAt.IsZero() && m.now().Add(refreshSkew).After(a.ExpiresAt) {
			refreshed, err := m.service.Refresh(ctx, a)
			switch {
			case err == nil:
				sess.SetAuth(refreshed)
				a = refreshed
			case credentialFailure(err):
				m.logger.Info("session refresh rejected", slog.String("user_id", a.UserID), slog.Any("error", err))
				m.sessions.Destroy(sess)
				next.ServeHTTP(w, r)
				return
			default:
				m.logger.Warn("session refresh failed", slog.String("user_id", a.UserID), slog.Any("error", err))
				if !m.now().Before(a.ExpiresAt) {
					next.ServeHTTP(w, r)
					return
				}
			}
		}
		p := &shared.Principal{
			UserID:      a.UserID,
			Email:       a.Email,
			IsAdmin:     a.IsAdmin,
			Pracas:      a.Pracas,
			AccessToken: a.AccessToken,
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(ctx, p)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
