package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Navigation targets of a denied activation
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
	HomePath         = "/"
)

// Guard outcomes reported to the DecisionRecorder
const (
	OutcomeAllow        = "allow"
	OutcomeLogin        = "login"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)

// SessionReader is the read side of the credential store
type SessionReader interface {
	IsLoggedIn() bool
	Roles() ([]string, error)
}

// DecisionRecorder receives every guard outcome
type DecisionRecorder interface {
	GuardDecision(outcome string)
}

// ProtectedRoute is the access rule of a console view. An empty RequiredRoles
// admits any logged-in session that holds at least one role.
type ProtectedRoute struct {
	RequiredRoles []string
}

// Decision is the result of evaluating a ProtectedRoute
type Decision struct {
	Allowed  bool
	Redirect string
	Outcome  string
	Roles    []string
}

// RouteGuard decides whether the current session may activate a view.
// It only reads the credential store.
type RouteGuard struct {
	store    SessionReader
	logger   *zap.Logger
	recorder DecisionRecorder
}

// NewRouteGuard creates a new RouteGuard. recorder may be nil.
func NewRouteGuard(store SessionReader, logger *zap.Logger, recorder DecisionRecorder) *RouteGuard {
	return &RouteGuard{
		store:    store,
		logger:   logger,
		recorder: recorder,
	}
}

// Check evaluates route against the current session. Failures while reading
// the session are logged and deny with a redirect home.
func (g *RouteGuard) Check(route ProtectedRoute) Decision {
	d := g.evaluate(route)
	g.record(d.Outcome)
	return d
}

func (g *RouteGuard) evaluate(route ProtectedRoute) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("route guard panicked", zap.Any("panic", r))
			d = Decision{Redirect: HomePath, Outcome: OutcomeError}
		}
	}()

	if !g.store.IsLoggedIn() {
		return Decision{Redirect: LoginPath, Outcome: OutcomeLogin}
	}

	roles, err := g.store.Roles()
	if err != nil {
		g.logger.Error("failed to read session roles", zap.Error(err))
		return Decision{Redirect: HomePath, Outcome: OutcomeError}
	}
	if len(roles) == 0 {
		return Decision{Redirect: UnauthorizedPath, Outcome: OutcomeUnauthorized}
	}

	if !hasAnyRole(roles, route.RequiredRoles) {
		return Decision{Redirect: UnauthorizedPath, Outcome: OutcomeUnauthorized, Roles: roles}
	}
	return Decision{Allowed: true, Outcome: OutcomeAllow, Roles: roles}
}

// record reports outcome. A failing recorder never changes the decision.
func (g *RouteGuard) record(outcome string) {
	if g.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("guard decision recorder panicked",
				zap.String("outcome", outcome),
				zap.Any("panic", r))
		}
	}()
	g.recorder.GuardDecision(outcome)
}

// Require returns middleware admitting sessions holding at least one of roles
func (g *RouteGuard) Require(roles ...string) func(http.Handler) http.Handler {
	route := ProtectedRoute{RequiredRoles: roles}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			d := g.Check(route)
			if !d.Allowed {
				g.logger.Warn("route activation denied",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.Strings("required_roles", roles),
					zap.Strings("roles", d.Roles),
					zap.String("redirect", d.Redirect))
				http.Redirect(w, r, d.Redirect, http.StatusFound)
				return
			}

			g.logger.Debug("route activation allowed",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))

			next.ServeHTTP(w, r.WithContext(WithRoles(ctx, d.Roles)))
		})
	}
}

func hasAnyRole(held, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range held {
			if have == want {
				return true
			}
		}
	}
	return false
}

