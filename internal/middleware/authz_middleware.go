// Package middleware provides HTTP middleware: authorization enforcement,
// structured request logging, and rate limiting.
package middleware

import (
	"context"
	"net/http"

	"github.com/chronoflow/timetracker/internal/api"
	"github.com/chronoflow/timetracker/internal/authz"
	appctx "github.com/chronoflow/timetracker/internal/context"
	"github.com/chronoflow/timetracker/internal/metrics"
)

// AuthzMiddleware runs the authorization decision engine on every request in
// the protected group.
type AuthzMiddleware struct {
	engine *authz.Engine
}

// NewAuthzMiddleware creates a new AuthzMiddleware instance
func NewAuthzMiddleware(engine *authz.Engine) *AuthzMiddleware {
	return &AuthzMiddleware{engine: engine}
}

// Authorize invokes the engine and, on allow, forwards the decision context
// to the business handler. Every deny collapses into one generic response;
// the reason stays in the logs.
func (m *AuthzMiddleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := m.engine.Authorize(r.Context(), authz.Input{
			BearerToken:  r.Header.Get("Authorization"),
			Method:       r.Method,
			ResourcePath: r.URL.Path,
		})

		if !decision.Allow {
			metrics.AuthzDecisionsTotal.WithLabelValues("deny").Inc()
			api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthorized, "Authentication required")
			return
		}
		metrics.AuthzDecisionsTotal.WithLabelValues("allow").Inc()

		ctx := r.Context()
		ctx = context.WithValue(ctx, appctx.UserIDKey, decision.Context[authz.CtxUserID])
		ctx = context.WithValue(ctx, appctx.EmailKey, decision.Context[authz.CtxEmail])
		ctx = context.WithValue(ctx, appctx.RoleKey, decision.Context[authz.CtxRole])
		ctx = context.WithValue(ctx, appctx.TeamIDKey, decision.Context[authz.CtxTeamID])
		ctx = context.WithValue(ctx, appctx.DepartmentKey, decision.Context[authz.CtxDepartment])
		if bootstrap, ok := decision.Context[authz.CtxBootstrap]; ok {
			ctx = context.WithValue(ctx, appctx.BootstrapKey, bootstrap)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
