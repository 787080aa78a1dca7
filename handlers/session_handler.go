package handlers

import (
	"net/http"

	"github.com/upb/registry-console/middleware"
	"github.com/upb/registry-console/utils"
	"go.uber.org/zap"
)

// SessionState is the read side of the credential store the views describe
type SessionState interface {
	IsLoggedIn() bool
	Roles() ([]string, error)
	Profile() string
}

// ViewResponse is the minimal state a console view renders
type ViewResponse struct {
	View     string   `json:"view"`
	LoggedIn bool     `json:"logged_in"`
	Profile  string   `json:"profile,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// SessionHandler serves the unguarded console views
type SessionHandler struct {
	store  SessionState
	logger *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(store SessionState, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		store:  store,
		logger: logger,
	}
}

// HandleLoginView handles GET /login
func (h *SessionHandler) HandleLoginView(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, ViewResponse{
		View:     "login",
		LoggedIn: h.store.IsLoggedIn(),
		Reason:   r.URL.Query().Get("reason"),
	})
}

// HandleUnauthorizedView handles GET /unauthorized
func (h *SessionHandler) HandleUnauthorizedView(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, ViewResponse{
		View:     "unauthorized",
		LoggedIn: h.store.IsLoggedIn(),
		Message:  "your roles do not grant access to this view",
	})
}

// HandleHome handles GET /
func (h *SessionHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	resp := ViewResponse{
		View:     "home",
		LoggedIn: h.store.IsLoggedIn(),
		Profile:  h.store.Profile(),
	}
	if resp.LoggedIn {
		roles, err := h.store.Roles()
		if err != nil {
			h.logger.Warn("failed to read session roles", zap.Error(err))
			resp.Message = "stored roles could not be read, please log in again"
		}
		resp.Roles = roles
	}
	_ = utils.WriteOK(w, resp)
}

// HandleMe handles GET /api/v1/me. It runs behind the route guard, which
// places the admitted roles in the request context.
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, ViewResponse{
		View:     "me",
		LoggedIn: true,
		Profile:  h.store.Profile(),
		Roles:    middleware.GetRolesFromContext(r.Context()),
	})
}
