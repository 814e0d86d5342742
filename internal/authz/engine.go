// Package authz is the per-request authorization entry point. The routing
// layer hands it the bearer credential plus method and path; it composes
// token validation, session validation, and the bootstrap exception into an
// allow/deny decision with a context map for downstream handlers.
package authz

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/chronoflow/timetracker/internal/auth"
	"github.com/chronoflow/timetracker/internal/session"
)

// Derived roles, in descending precedence for group-based derivation.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// Context map keys emitted on Allow.
const (
	CtxUserID     = "userId"
	CtxEmail      = "email"
	CtxRole       = "role"
	CtxTeamID     = "teamId"
	CtxDepartment = "department"
	CtxAuthTime   = "authTime"
	CtxIssuedAt   = "issuedAt"
	CtxExpiry     = "expiry"
	CtxBootstrap  = "bootstrap"
	CtxReason     = "reason"
)

// Bootstrap reasons recorded in the context map.
const (
	ReasonForced             = "forced"
	ReasonNoExistingSessions = "no_existing_sessions"
)

// bootstrapPath matches the session-creation route. The bootstrap predicate
// is evaluated purely from method and path, never from the payload.
var bootstrapPath = regexp.MustCompile(`^(?:/api/v1)?/users/[^/]+/sessions/?$`)

// Input is the engine's per-request input. BearerToken carries the raw
// Authorization header value.
type Input struct {
	BearerToken  string
	Method       string
	ResourcePath string
}

// Decision is the engine's output. On deny the context is always nil; the
// reason a request was denied is logged internally and never surfaced, to
// avoid giving an oracle to the authorization surface.
type Decision struct {
	Allow   bool
	Context map[string]string
}

// TokenValidator validates a bearer credential.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.IdentityClaims, error)
}

// SessionValidator reports whether a user holds any valid session.
type SessionValidator interface {
	ValidateUserSessions(ctx context.Context, userID string) (session.ValidationResult, error)
}

// Engine decides, per inbound request, whether the caller may proceed.
// Stateless beyond its injected dependencies.
type Engine struct {
	tokens   TokenValidator
	sessions SessionValidator
	logger   *slog.Logger

	// forceBootstrap is the break-glass override: with it enabled, a valid
	// token alone opens the session-creation route. Dangerous, temporary
	// configuration; every use is logged loudly.
	forceBootstrap bool
}

// NewEngine creates a new Engine instance
func NewEngine(tokens TokenValidator, sessions SessionValidator, forceBootstrap bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if forceBootstrap {
		logger.Warn("FORCE BOOTSTRAP IS ENABLED: session checks on the session-creation route are bypassed; disable this as soon as recovery is complete")
	}
	return &Engine{
		tokens:         tokens,
		sessions:       sessions,
		logger:         logger,
		forceBootstrap: forceBootstrap,
	}
}

// deny returns the one generic deny, logging the internal reason.
func (e *Engine) deny(ctx context.Context, why string, attrs ...slog.Attr) Decision {
	e.logger.LogAttrs(ctx, slog.LevelInfo, "authorization denied",
		append([]slog.Attr{slog.String("why", why)}, attrs...)...)
	return Decision{Allow: false}
}

// Authorize runs the per-request decision: extract credential, validate it,
// decide bootstrap vs normal path, check sessions, and emit the context map.
func (e *Engine) Authorize(ctx context.Context, in Input) Decision {
	token, ok := extractBearer(in.BearerToken)
	if !ok {
		return e.deny(ctx, "missing or malformed authorization header")
	}

	claims, err := e.tokens.Validate(ctx, token)
	if err != nil {
		return e.deny(ctx, "token validation failed", slog.String("error", err.Error()))
	}
	userID := claims.UserID()

	if e.isBootstrap(in.Method, in.ResourcePath) {
		if e.forceBootstrap {
			e.logger.Warn("forced bootstrap used",
				slog.String("user_id", userID),
				slog.String("path", in.ResourcePath))
			return Decision{Allow: true, Context: e.buildContext(claims, ReasonForced)}
		}

		result, err := e.sessions.ValidateUserSessions(ctx, userID)
		if err != nil {
			// Fail closed: an unreadable session store means no bootstrap.
			return e.deny(ctx, "session validation failed during bootstrap",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		if result.SessionCount == 0 {
			return Decision{Allow: true, Context: e.buildContext(claims, ReasonNoExistingSessions)}
		}
		// Holding sessions already, the caller must use one of them instead
		// of minting more through the bootstrap exception.
		return e.deny(ctx, "bootstrap refused, user already holds active sessions",
			slog.String("user_id", userID),
			slog.Int("session_count", result.SessionCount))
	}

	result, err := e.sessions.ValidateUserSessions(ctx, userID)
	if err != nil {
		return e.deny(ctx, "session validation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
	if !result.HasActiveSessions {
		return e.deny(ctx, "no active session", slog.String("user_id", userID))
	}

	return Decision{Allow: true, Context: e.buildContext(claims, "")}
}

// isBootstrap reports whether the request targets the session-creation route.
func (e *Engine) isBootstrap(method, path string) bool {
	return method == http.MethodPost && bootstrapPath.MatchString(path)
}

// buildContext emits the downstream context map for an allowed request.
func (e *Engine) buildContext(claims *auth.IdentityClaims, bootstrapReason string) map[string]string {
	m := map[string]string{
		CtxUserID:     claims.UserID(),
		CtxEmail:      claims.Email,
		CtxRole:       DeriveRole(claims),
		CtxTeamID:     claims.TeamID,
		CtxDepartment: claims.Department,
	}
	if claims.AuthTime > 0 {
		m[CtxAuthTime] = strconv.FormatInt(claims.AuthTime, 10)
	}
	if claims.IssuedAt != nil {
		m[CtxIssuedAt] = strconv.FormatInt(claims.IssuedAt.Unix(), 10)
	}
	if claims.ExpiresAt != nil {
		m[CtxExpiry] = strconv.FormatInt(claims.ExpiresAt.Unix(), 10)
	}
	if bootstrapReason != "" {
		m[CtxBootstrap] = "true"
		m[CtxReason] = bootstrapReason
	}
	return m
}

// DeriveRole prefers the explicit role claim, then derives from group
// membership with precedence admin > manager > employee, defaulting to
// employee.
func DeriveRole(claims *auth.IdentityClaims) string {
	if claims.Role != "" {
		return claims.Role
	}

	role := RoleEmployee
	for _, group := range claims.Groups {
		switch strings.ToLower(group) {
		case RoleAdmin:
			return RoleAdmin
		case RoleManager:
			role = RoleManager
		}
	}
	return role
}

// extractBearer pulls the token out of an Authorization header value.
func extractBearer(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
