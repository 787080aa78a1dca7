package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]string{"result": "success"}))
	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	dataMap := response.Data.(map[string]interface{})
	assert.Equal(t, "success", dataMap["result"])
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestWriteHelpersDefaultMessages(t *testing.T) {
	tests := []struct {
		name    string
		write   func(http.ResponseWriter) error
		status  int
		errType string
		message string
	}{
		{"unauthorized", func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") }, http.StatusUnauthorized, "unauthorized", "Authentication required"},
		{"forbidden", func(w http.ResponseWriter) error { return WriteForbidden(w, "") }, http.StatusForbidden, "forbidden", "Access forbidden"},
		{"not found", func(w http.ResponseWriter) error { return WriteNotFound(w, "") }, http.StatusNotFound, "not_found", "Resource not found"},
		{"bad gateway", func(w http.ResponseWriter) error { return WriteBadGateway(w, "", nil) }, http.StatusBadGateway, "bad_gateway", "Upstream service error"},
		{"internal", func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") }, http.StatusInternalServerError, "internal_error", "Internal server error"},
		{"custom unauthorized", func(w http.ResponseWriter) error {
			return WriteUnauthorized(w, "session expired, please log in again")
		}, http.StatusUnauthorized, "unauthorized", "session expired, please log in again"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.errType, response.Error)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	details := map[string]interface{}{"field": "username"}

	require.NoError(t, WriteBadRequest(w, "Invalid input", details))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "bad_request", response.Error)
	assert.Equal(t, "username", response.Details["field"])
}

func TestWriteError_UnknownStatus(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteError(w, http.StatusTeapot, "I'm a teapot", nil))

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "internal_error", response.Error)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantErr    bool
		validation bool
	}{
		{"valid body", `{"username":"dr.gomez","password":"s3cret"}`, false, false},
		{"empty body", ``, true, false},
		{"malformed json", `{"username":`, true, false},
		{"unknown field", `{"username":"a","password":"bbbb","otp":"1"}`, true, false},
		{"fails validation", `{"username":"dr.gomez"}`, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tt.body))

			var in credentialsInput
			err := DecodeJSON(req, &in)

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "dr.gomez", in.Username)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.validation, IsValidationError(err))
		})
	}
}
