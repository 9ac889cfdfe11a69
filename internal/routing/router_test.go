package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-task-router/internal/credentials"
	"github.com/tributary-ai/llm-task-router/internal/ledger"
	"github.com/tributary-ai/llm-task-router/internal/metrics"
	"github.com/tributary-ai/llm-task-router/internal/providers"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, call providers.Call) (string, error) {
	args := m.Called(ctx, call)
	return args.String(0), args.Error(1)
}

func onModel(model string) interface{} {
	return mock.MatchedBy(func(c providers.Call) bool { return c.Model == model })
}

type failingResolver struct{}

func (failingResolver) Resolve(ctx context.Context) (types.Credentials, error) {
	return types.Credentials{}, &credentials.NotFoundError{Attempts: []credentials.Attempt{
		{Source: "file:secrets.json", Err: errors.New("missing")},
	}}
}

func newLocalRouter(t *testing.T, exec providers.Executor, opts ...func(*Dependencies)) *Router {
	t.Helper()
	deps := Dependencies{
		Resolver: credentials.StaticResolver(types.Credentials{APIURL: "http://router.invalid", APIKey: "k"}),
		Engine:   newTestEngine(t),
		Executor: exec,
		Metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router, err := NewRouter(DefaultConfig(), deps, testLogger())
	require.NoError(t, err)
	return router
}

func TestRouter_Route_LocalDecisionAndExecution(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, onModel("google/gemini-1.5-flash")).Return("not spam", nil).Once()

	router := newLocalRouter(t, exec)
	resp := router.Route(context.Background(), types.RoutingRequest{
		TaskType:     types.TaskClassification,
		Prompt:       "Is this spam?",
		CostPriority: 0.9,
	})

	assert.Equal(t, "not spam", resp.Response)
	assert.Equal(t, "google/gemini-1.5-flash", resp.SelectedModel)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.False(t, resp.FallbackUsed)
	assert.NotEmpty(t, resp.RequestID)
	exec.AssertExpectations(t)
}

func TestRouter_Route_RemoteDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"selected_model":"openai/gpt-4o","confidence":0.8}`))
	}))
	defer server.Close()

	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, onModel("openai/gpt-4o")).Return("remote answer", nil).Once()

	router := newLocalRouter(t, exec, func(d *Dependencies) {
		d.Resolver = credentials.StaticResolver(types.Credentials{APIURL: server.URL, APIKey: "k"})
		d.Remote = NewRemoteClient(RemoteConfig{Enabled: true}, d.Engine, testLogger())
	})

	resp := router.Route(context.Background(), types.RoutingRequest{Prompt: "hello", Explain: true})
	assert.Equal(t, "remote answer", resp.Response)
	assert.Equal(t, types.SourceRemote, resp.Source)
	assert.Equal(t, 0.8, resp.Confidence)
	require.Len(t, resp.Trace, 1)
	exec.AssertExpectations(t)
}

func TestRouter_Route_ExecutionFailureUsesFallbackModel(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, onModel("anthropic/claude-3-haiku")).
		Return("", &providers.ModelAPIError{Model: "anthropic/claude-3-haiku", StatusCode: 503, Body: "overloaded"}).Once()
	exec.On("Execute", mock.Anything, onModel("openai/gpt-4o-mini")).Return("fallback text", nil).Once()

	router := newLocalRouter(t, exec)
	req := types.RoutingRequest{
		TaskType:    types.TaskSummarization,
		Prompt:      "summarize",
		MaxTokens:   types.IntPtr(42),
		Temperature: types.Float64Ptr(0.2),
	}
	resp := router.Route(context.Background(), req)

	assert.Equal(t, "fallback text", resp.Response)
	assert.Equal(t, "openai/gpt-4o-mini", resp.SelectedModel)
	assert.Equal(t, 0.5, resp.Confidence)
	assert.Equal(t, DefaultConfig().FallbackCost, resp.EstimatedCost)
	assert.True(t, resp.FallbackUsed)
	assert.Contains(t, resp.Reasoning, "status 503")

	// the fallback call keeps the original limits
	fallbackCall := exec.Calls[1].Arguments.Get(1).(providers.Call)
	assert.Equal(t, 42, *fallbackCall.MaxTokens)
	assert.Equal(t, 0.2, *fallbackCall.Temperature)
	exec.AssertNumberOfCalls(t, "Execute", 2)
}

func TestRouter_Route_DoubleFailureReturnsPlaceholder(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	router := newLocalRouter(t, exec)
	prompt := strings.Repeat("p", 150)
	resp := router.Route(context.Background(), types.RoutingRequest{Prompt: prompt})

	assert.True(t, strings.HasPrefix(resp.Response, "Error processing request: "))
	assert.Equal(t, "Error processing request: "+strings.Repeat("p", 100)+"...", resp.Response)
	assert.NotEmpty(t, resp.SelectedModel)
	assert.True(t, resp.FallbackUsed)
	assert.Equal(t, 0.5, resp.Confidence)
	assert.Equal(t, DefaultConfig().FallbackCost, resp.EstimatedCost)
	assert.Contains(t, resp.Reasoning, "connection refused")
	exec.AssertNumberOfCalls(t, "Execute", 2)
}

func TestRouter_Route_PlaceholderShortPromptHasNoEllipsis(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return("", errors.New("down"))

	resp := newLocalRouter(t, exec).Route(context.Background(), types.RoutingRequest{Prompt: "short"})
	assert.Equal(t, "Error processing request: short", resp.Response)
}

func TestRouter_Route_MissingCredentialsFallsBack(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, onModel("openai/gpt-4o-mini")).Return("direct answer", nil).Once()

	router := newLocalRouter(t, exec, func(d *Dependencies) {
		d.Resolver = failingResolver{}
	})
	resp := router.Route(context.Background(), types.RoutingRequest{Prompt: "hello"})

	assert.Equal(t, "direct answer", resp.Response)
	assert.True(t, resp.FallbackUsed)
	assert.Contains(t, resp.Reasoning, "credentials")
	exec.AssertExpectations(t)
}

func TestRouter_Route_InvalidRequestNeverCallsModel(t *testing.T) {
	exec := &mockExecutor{}
	router := newLocalRouter(t, exec)

	resp := router.Route(context.Background(), types.RoutingRequest{Prompt: "hi", Temperature: types.Float64Ptr(9)})

	assert.Equal(t, "Error processing request: hi", resp.Response)
	assert.Contains(t, resp.Reasoning, "Temperature")
	assert.Contains(t, resp.Reasoning, "no model was attempted")
	assert.True(t, resp.FallbackUsed)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRouter_Route_RecordsLedger(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return("ok", nil)

	router := newLocalRouter(t, exec, func(d *Dependencies) { d.Ledger = store })
	router.Route(context.Background(), types.RoutingRequest{TaskType: types.TaskExtraction, Prompt: "pull the dates"})

	summary, err := store.Summary(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, summary.Models, 1)
	assert.Equal(t, "mistral/mistral-small-latest", summary.Models[0].Model)
}

func TestRouter_Classify_UsesPreset(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return("ham", nil).Once()

	resp := newLocalRouter(t, exec).Classify(context.Background(), "Is this spam?", "")
	assert.Equal(t, "ham", resp.Response)

	call := exec.Calls[0].Arguments.Get(1).(providers.Call)
	assert.Equal(t, "google/gemini-1.5-flash", call.Model)
	assert.Equal(t, 256, *call.MaxTokens)
	assert.Equal(t, 0.0, *call.Temperature)
}

func TestRouter_RunTask_UnknownPreset(t *testing.T) {
	router := newLocalRouter(t, &mockExecutor{})
	_, ok := router.RunTask(context.Background(), "poetry", types.TaskRequest{Prompt: "x"})
	assert.False(t, ok)
	assert.Equal(t, []string{"analysis", "classification", "code_generation", "summarization", "ticket_analysis"}, PresetNames())
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	_, err := NewRouter(DefaultConfig(), Dependencies{}, testLogger())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.FallbackModel = ""
	_, err = NewRouter(cfg, Dependencies{}, testLogger())
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "日本...", truncate("日本語", 2))
}

func TestRouter_Route_KeepsRequestID(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return("ok", nil)

	ctx := WithRequestID(context.Background(), "req-42")
	resp := newLocalRouter(t, exec).Route(ctx, types.RoutingRequest{Prompt: "hi"})
	assert.Equal(t, "req-42", resp.RequestID)
}
