package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/upb/registry-console/claims"
	"github.com/upb/registry-console/config"
	"go.uber.org/zap"
)

// LoginResponse is the identity provider's login payload. Roles is optional;
// when absent the roles are read from the token claims.
type LoginResponse struct {
	Token        string   `json:"token"`
	Roles        []string `json:"roles,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
}

// RefreshResponse is the identity provider's refresh payload
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"client_id,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id,omitempty"`
}

// IdentityService talks to the identity provider. Its HTTP client is separate
// from the registry client so login and refresh never pass through the
// authenticating transport.
type IdentityService struct {
	cfg        config.IdentityConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewIdentityService creates a new identity provider client
func NewIdentityService(cfg config.IdentityConfig, logger *zap.Logger) *IdentityService {
	return &IdentityService{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: newIdentityTransport(),
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
}

// newIdentityTransport copies the default transport so proxy settings and
// dial and TLS timeouts apply while connections stay private to this client
func newIdentityTransport() http.RoundTripper {
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		return base.Clone()
	}
	return http.DefaultTransport
}

// Login exchanges operator credentials for a token and role list
func (s *IdentityService) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var resp LoginResponse
	status, err := s.post(ctx, s.cfg.LoginURL, loginRequest{
		Username: username,
		Password: password,
		ClientID: s.cfg.ClientID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusBadRequest:
		s.logger.Info("login rejected by identity provider",
			zap.String("username", username),
			zap.Int("status", status))
		return nil, ErrLoginRejected
	case status != http.StatusOK:
		return nil, NewDomainError(ErrorTypeExternal, "identity login failed", nil).WithDetail("status", status)
	case resp.Token == "":
		return nil, NewDomainError(ErrorTypeExternal, "identity login returned no token", nil)
	}

	if resp.Roles == nil {
		roles, err := claims.ExtractRoles(resp.Token, s.cfg.ClientID)
		if err != nil {
			s.logger.Warn("could not read roles from token claims", zap.Error(err))
			roles = []string{}
		}
		resp.Roles = roles
	}

	s.logger.Info("login succeeded",
		zap.String("username", username),
		zap.Strings("roles", resp.Roles))
	return &resp, nil
}

// Refresh exchanges a refresh token for a new access token
func (s *IdentityService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	var resp RefreshResponse
	status, err := s.post(ctx, s.cfg.RefreshURL, refreshRequest{
		RefreshToken: refreshToken,
		ClientID:     s.cfg.ClientID,
	}, &resp)
	if err != nil {
		return "", err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusBadRequest || status == http.StatusForbidden:
		return "", NewDomainError(ErrorTypeUnauthorized, "refresh token rejected", nil).WithDetail("status", status)
	case status != http.StatusOK:
		return "", NewDomainError(ErrorTypeExternal, "identity refresh failed", nil).WithDetail("status", status)
	case resp.AccessToken == "":
		return "", NewDomainError(ErrorTypeExternal, "identity refresh returned no access_token", nil)
	}
	return resp.AccessToken, nil
}

// post sends payload as JSON and decodes a 200 response into out.
// Non-200 statuses are returned without decoding.
func (s *IdentityService) post(ctx context.Context, url string, payload, out interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, WrapInternal("encode identity request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, WrapInternal("create identity request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, WrapExternal("identity provider unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, WrapExternal("read identity response", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("identity provider returned error",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return 0, WrapExternal(fmt.Sprintf("parse identity response from %s", url), err)
	}
	return resp.StatusCode, nil
}
