package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-task-router/internal/credentials"
	"github.com/tributary-ai/llm-task-router/internal/ledger"
	"github.com/tributary-ai/llm-task-router/internal/metrics"
	"github.com/tributary-ai/llm-task-router/internal/middleware"
	"github.com/tributary-ai/llm-task-router/internal/providers"
	"github.com/tributary-ai/llm-task-router/internal/routing"
	"github.com/tributary-ai/llm-task-router/internal/rules"
	"github.com/tributary-ai/llm-task-router/internal/security"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// echoExecutor answers with the model name, or fails for models in fail
type echoExecutor struct {
	fail map[string]bool
}

func (e echoExecutor) Execute(ctx context.Context, call providers.Call) (string, error) {
	if e.fail[call.Model] {
		return "", errors.New("model unavailable")
	}
	return "answer from " + call.Model, nil
}

type testServer struct {
	handler http.Handler
	store   *ledger.Store
}

func newTestServer(t *testing.T, exec providers.Executor, cfg *ServerConfig) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	engine, err := rules.NewEngine(rules.DefaultConfig())
	require.NoError(t, err)

	store, err := ledger.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	routingCfg := routing.DefaultConfig()
	routingCfg.Remote.Enabled = false
	router, err := routing.NewRouter(routingCfg, routing.Dependencies{
		Resolver: credentials.StaticResolver(types.Credentials{APIURL: "http://unused.invalid", APIKey: "k"}),
		Engine:   engine,
		Executor: exec,
		Ledger:   store,
		Metrics:  m,
	}, logger)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &ServerConfig{Port: "0", Validation: &middleware.ValidationConfig{Enabled: true}}
	}
	srv, err := NewServer(router, cfg, Dependencies{Usage: store, Metrics: m}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	return &testServer{handler: srv.Handler(), store: store}
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Route(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, nil)

	rec := ts.do(http.MethodPost, "/v1/route", `{"task_type":"classification","prompt":"Is this spam?","cost_priority":0.9}`,
		middleware.RequestIDHeader, "req-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp types.RoutingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "google/gemini-1.5-flash", resp.SelectedModel)
	assert.Equal(t, "answer from google/gemini-1.5-flash", resp.Response)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.FallbackUsed)
}

func TestServer_Route_FallbackIsStill200(t *testing.T) {
	ts := newTestServer(t, echoExecutor{fail: map[string]bool{"anthropic/claude-3-haiku": true}}, nil)

	rec := ts.do(http.MethodPost, "/v1/route", `{"task_type":"summarization","prompt":"summarize this"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.RoutingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.FallbackUsed)
	assert.Equal(t, "openai/gpt-4o-mini", resp.SelectedModel)
	assert.Equal(t, 0.5, resp.Confidence)
}

func TestServer_Route_InvalidBodies(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing prompt", `{"task_type":"analysis"}`},
		{"cost priority out of range", `{"prompt":"x","cost_priority":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/v1/route", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp types.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestServer_Route_ValidatorWithoutOpenAPI(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, &ServerConfig{Port: "0"})

	rec := ts.do(http.MethodPost, "/v1/route", `{"prompt":"x","temperature":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
	assert.Contains(t, resp.Error.Fields, "Temperature")
}

func TestServer_RoutingDecision(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, nil)

	rec := ts.do(http.MethodPost, "/v1/routing/decision", `{"prompt":"def main():\n    pass","explain":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision types.RoutingDecision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&decision))
	assert.Equal(t, rules.LayerCode, decision.Layer)
	assert.Equal(t, types.SourceLocal, decision.Source)
	assert.NotEmpty(t, decision.Trace)
}

func TestServer_Tasks(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, &ServerConfig{Port: "0"})

	rec := ts.do(http.MethodPost, "/v1/tasks/classification", `{"prompt":"Is this spam?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.RoutingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "google/gemini-1.5-flash", resp.SelectedModel)

	rec = ts.do(http.MethodPost, "/v1/tasks/poetry", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ModelsAndUsage(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, nil)

	rec := ts.do(http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var models types.ModelsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&models))
	assert.Equal(t, "list", models.Object)
	assert.Len(t, models.Data, len(rules.DefaultPrices()))

	ts.do(http.MethodPost, "/v1/route", `{"task_type":"extraction","prompt":"dates please"}`)
	ts.do(http.MethodPost, "/v1/route", `{"task_type":"extraction","prompt":"more dates"}`)

	rec = ts.do(http.MethodGet, "/v1/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var usage types.UsageSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&usage))
	assert.Equal(t, int64(2), usage.Calls)

	rec = ts.do(http.MethodGet, "/v1/usage?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_OperationalEndpoints(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, nil)

	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	ts.do(http.MethodPost, "/v1/route", `{"prompt":"hello"}`)
	rec = ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llm_task_router_decisions_total")

	rec = ts.do(http.MethodGet, "/docs/openapi.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"openapi":"3.0.3"`)

	rec = ts.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RequiresAuth(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, &ServerConfig{
		Port: "0",
		Security: &middleware.SecurityMiddlewareConfig{
			Auth: &security.Config{APIKeys: []string{"secret-key-1"}, RequireAuth: true},
		},
	})

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/v1/models", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/models", "", "X-API-Key", "secret-key-1").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "").Code)
}

func TestServer_IssuesTokens(t *testing.T) {
	ts := newTestServer(t, echoExecutor{}, &ServerConfig{
		Port:       "0",
		Validation: &middleware.ValidationConfig{Enabled: true},
		Security: &middleware.SecurityMiddlewareConfig{
			Auth: &security.Config{
				APIKeys:     []string{"secret-key-1"},
				JWTSecret:   "server-test-secret-that-is-long-enough",
				RequireAuth: true,
			},
		},
	})

	rec := ts.do(http.MethodPost, "/v1/auth/token", "", "X-API-Key", "secret-key-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var token security.TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&token))
	require.NotEmpty(t, token.Token)

	// the issued token is accepted by the routing endpoints
	rec = ts.do(http.MethodGet, "/v1/models", "", "Authorization", "Bearer "+token.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
}
