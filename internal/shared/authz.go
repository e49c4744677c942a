package shared

import (
	"net/http"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/platform/httpx"
)

// RequireUser rejects anonymous requests. Machine principals pass only when
// allowMachine is set.
func RequireUser(allowMachine bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
				return
			}
			if p.Machine && !allowMachine {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "ingest tokens cannot use this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin allows only signed-in administrators.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
			return
		}
		if p.Machine || !p.IsAdmin {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CanSeePraca reports whether the caller may read data for praca. Admins,
// machine clients and users without an assignment list see everything.
func (p *Principal) CanSeePraca(praca string) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin || p.Machine || len(p.Pracas) == 0 || praca == "" {
		return true
	}
	for _, allowed := range p.Pracas {
		if allowed == praca {
			return true
		}
	}
	return false
}
