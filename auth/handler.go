// Package auth serves the console's login and logout endpoints. A successful
// login writes the credential store; logout clears it.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/registry-console/handlers"
	"github.com/upb/registry-console/services"
	"github.com/upb/registry-console/session"
	"github.com/upb/registry-console/utils"
	"go.uber.org/zap"
)

// Authenticator exchanges operator credentials at the identity provider
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*services.LoginResponse, error)
}

// CredentialWriter is the write side of the credential store
type CredentialWriter interface {
	Save(ctx context.Context, cred session.Credential) error
	Clear(ctx context.Context) error
}

// LoginRequest is the body of POST /login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginResult is returned after a successful login
type LoginResult struct {
	Roles    []string `json:"roles"`
	Redirect string   `json:"redirect"`
}

// Handler handles login and logout
type Handler struct {
	identity Authenticator
	store    CredentialWriter
	logger   *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(identity Authenticator, store CredentialWriter, logger *zap.Logger) *Handler {
	return &Handler{
		identity: identity,
		store:    store,
		logger:   logger,
	}
}

// HandleLogin handles POST /login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		handlers.HandleValidationError(w, err, h.logger)
		return
	}

	resp, err := h.identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("login failed", zap.String("username", req.Username), zap.Error(err))
		handlers.HandleServiceError(w, err, h.logger)
		return
	}

	cred := session.Credential{
		Token:        resp.Token,
		Roles:        resp.Roles,
		RefreshToken: resp.RefreshToken,
	}
	if err := h.store.Save(r.Context(), cred); err != nil {
		handlers.HandleServiceError(w, services.WrapInternal("session store error", err), h.logger)
		return
	}

	roles := resp.Roles
	if roles == nil {
		roles = []string{}
	}
	_ = utils.WriteOK(w, LoginResult{Roles: roles, Redirect: "/"})
}

// HandleLogout handles POST /logout. Browser navigations land on the login view.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		handlers.HandleServiceError(w, services.WrapInternal("session store error", err), h.logger)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: "logged out"})
}
