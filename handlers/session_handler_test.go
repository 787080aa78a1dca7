package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/registry-console/middleware"
	"github.com/upb/registry-console/session"
	"go.uber.org/zap"
)

// MockSessionState is a mock implementation of SessionState
type MockSessionState struct {
	mock.Mock
}

func (m *MockSessionState) IsLoggedIn() bool {
	return m.Called().Bool(0)
}

func (m *MockSessionState) Roles() ([]string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSessionState) Profile() string {
	return m.Called().String(0)
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) ViewResponse {
	t.Helper()
	var envelope struct {
		Data ViewResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope.Data
}

func TestSessionHandler_HandleLoginView(t *testing.T) {
	store := new(MockSessionState)
	store.On("IsLoggedIn").Return(false)
	handler := NewSessionHandler(store, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleLoginView(w, httptest.NewRequest(http.MethodGet, "/login?reason=session_expired", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	view := decodeView(t, w)
	assert.Equal(t, "login", view.View)
	assert.False(t, view.LoggedIn)
	assert.Equal(t, "session_expired", view.Reason)
}

func TestSessionHandler_HandleUnauthorizedView(t *testing.T) {
	store := new(MockSessionState)
	store.On("IsLoggedIn").Return(true)
	handler := NewSessionHandler(store, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleUnauthorizedView(w, httptest.NewRequest(http.MethodGet, "/unauthorized", nil))

	view := decodeView(t, w)
	assert.Equal(t, "unauthorized", view.View)
	assert.True(t, view.LoggedIn)
	assert.NotEmpty(t, view.Message)
}

func TestSessionHandler_HandleHome(t *testing.T) {
	t.Run("logged in with roles", func(t *testing.T) {
		store := new(MockSessionState)
		store.On("IsLoggedIn").Return(true)
		store.On("Profile").Return("default")
		store.On("Roles").Return([]string{session.RoleDoctor}, nil)
		handler := NewSessionHandler(store, zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))

		view := decodeView(t, w)
		assert.Equal(t, "home", view.View)
		assert.Equal(t, "default", view.Profile)
		assert.Equal(t, []string{session.RoleDoctor}, view.Roles)
		store.AssertExpectations(t)
	})

	t.Run("logged out does not read roles", func(t *testing.T) {
		store := new(MockSessionState)
		store.On("IsLoggedIn").Return(false)
		store.On("Profile").Return("default")
		handler := NewSessionHandler(store, zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))

		view := decodeView(t, w)
		assert.False(t, view.LoggedIn)
		assert.Empty(t, view.Roles)
		store.AssertNotCalled(t, "Roles")
	})

	t.Run("corrupted roles", func(t *testing.T) {
		store := new(MockSessionState)
		store.On("IsLoggedIn").Return(true)
		store.On("Profile").Return("default")
		store.On("Roles").Return(nil, session.ErrCorruptedRoles)
		handler := NewSessionHandler(store, zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		view := decodeView(t, w)
		assert.Empty(t, view.Roles)
		assert.NotEmpty(t, view.Message)
	})
}

func TestSessionHandler_HandleMe(t *testing.T) {
	store := new(MockSessionState)
	store.On("Profile").Return("ward-3")
	handler := NewSessionHandler(store, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req = req.WithContext(middleware.WithRoles(req.Context(), []string{session.RoleAdmin}))
	w := httptest.NewRecorder()

	handler.HandleMe(w, req)

	view := decodeView(t, w)
	assert.Equal(t, "me", view.View)
	assert.Equal(t, "ward-3", view.Profile)
	assert.Equal(t, []string{session.RoleAdmin}, view.Roles)
}
