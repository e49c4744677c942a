package dashboard

import (
	"context"
	"slices"
	"strings"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
)

const (
	// ScopeAll is the cache scope of callers that see every praça.
	ScopeAll = "all"
	// ScopeAnon is used when the caller's visibility is unknown.
	ScopeAnon = "anon"
)

type scopeKey struct{}

// ContextWithScope tags ctx with the caller's data visibility. Cached results
// are only shared between callers with the same scope.
func ContextWithScope(ctx context.Context, scope string) context.Context {
	if scope == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope attached to ctx, or ScopeAnon.
func ScopeFromContext(ctx context.Context) string {
	if scope, _ := ctx.Value(scopeKey{}).(string); scope != "" {
		return scope
	}
	return ScopeAnon
}

// PracaScope renders a stable scope for a praça assignment list.
func PracaScope(pracas []string) string {
	return "pracas:" + strings.Join(cleanPracas(pracas), "|")
}

// ServiceContext runs loads with the service key in the all-praças scope.
// Only background work with no signed-in caller uses it.
func ServiceContext(ctx context.Context) context.Context {
	return ContextWithScope(backend.ContextWithServiceRole(ctx), ScopeAll)
}

func cleanPracas(pracas []string) []string {
	out := make([]string, 0, len(pracas))
	for _, p := range pracas {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
