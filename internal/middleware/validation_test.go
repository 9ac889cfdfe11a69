package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-task-router/api"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

func newTestValidation(t *testing.T) http.Handler {
	t.Helper()
	doc, err := api.Load()
	require.NoError(t, err)

	vm, err := NewValidationMiddleware(&ValidationConfig{Enabled: true}, doc, quietLogger())
	require.NoError(t, err)

	return vm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
}

func TestValidationMiddleware_Requests(t *testing.T) {
	handler := newTestValidation(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"valid route request", http.MethodPost, "/v1/route", `{"prompt":"hello","cost_priority":0.5}`, http.StatusOK},
		{"missing prompt", http.MethodPost, "/v1/route", `{"context":"x"}`, http.StatusBadRequest},
		{"temperature too high", http.MethodPost, "/v1/route", `{"prompt":"x","temperature":3}`, http.StatusBadRequest},
		{"bad severity", http.MethodPost, "/v1/routing/decision", `{"prompt":"x","severity":"urgent"}`, http.StatusBadRequest},
		{"valid task", http.MethodPost, "/v1/tasks/summarization", `{"prompt":"x"}`, http.StatusOK},
		{"unknown task kind", http.MethodPost, "/v1/tasks/poetry", `{"prompt":"x"}`, http.StatusBadRequest},
		{"undocumented path", http.MethodGet, "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				// the body survives validation for the real handler
				assert.Equal(t, tt.body, rec.Body.String())
				return
			}

			var resp types.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "validation_error", resp.Error.Type)
			assert.Equal(t, "400", resp.Error.Code)
		})
	}
}

func TestValidationMiddleware_Disabled(t *testing.T) {
	vm, err := NewValidationMiddleware(&ValidationConfig{}, nil, quietLogger())
	require.NoError(t, err)

	called := false
	handler := vm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader("nope")))
	assert.True(t, called)
}

func TestNewValidationMiddleware_RequiresDocument(t *testing.T) {
	_, err := NewValidationMiddleware(&ValidationConfig{Enabled: true}, nil, quietLogger())
	assert.Error(t, err)
}
