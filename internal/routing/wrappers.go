package routing

import (
	"context"
	"sort"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// TaskPreset fixes the routing inputs for a common kind of task
type TaskPreset struct {
	TaskType     types.TaskType
	MaxTokens    int
	Temperature  float64
	CostPriority float64
}

// Presets are the built-in convenience tasks, keyed by name
var Presets = map[string]TaskPreset{
	"analysis":        {TaskType: types.TaskAnalysis, MaxTokens: 2000, Temperature: 0.3, CostPriority: 0.5},
	"ticket_analysis": {TaskType: types.TaskTicketAnalysis, MaxTokens: 2500, Temperature: 0.2, CostPriority: 0.6},
	"summarization":   {TaskType: types.TaskSummarization, MaxTokens: 1000, Temperature: 0.2, CostPriority: 0.3},
	"classification":  {TaskType: types.TaskClassification, MaxTokens: 256, Temperature: 0.0, CostPriority: 0.2},
	"code_generation": {TaskType: types.TaskCodeGeneration, MaxTokens: 3000, Temperature: 0.1, CostPriority: 0.8},
}

// PresetNames lists the preset keys in order
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Request builds a routing request from the preset
func (p TaskPreset) Request(prompt, taskContext string, explain bool) types.RoutingRequest {
	return types.RoutingRequest{
		TaskType:     p.TaskType,
		Prompt:       prompt,
		Context:      taskContext,
		MaxTokens:    types.IntPtr(p.MaxTokens),
		Temperature:  types.Float64Ptr(p.Temperature),
		CostPriority: p.CostPriority,
		Explain:      explain,
	}
}

// RunTask routes a task request through the named preset. The second
// result is false when no such preset exists.
func (r *Router) RunTask(ctx context.Context, name string, tr types.TaskRequest) (types.RoutingResponse, bool) {
	preset, ok := Presets[name]
	if !ok {
		return types.RoutingResponse{}, false
	}
	return r.Route(ctx, preset.Request(tr.Prompt, tr.Context, tr.Explain)), true
}

func (r *Router) runPreset(ctx context.Context, name, prompt, taskContext string) types.RoutingResponse {
	resp, _ := r.RunTask(ctx, name, types.TaskRequest{Prompt: prompt, Context: taskContext})
	return resp
}

// Analyze runs a general analysis task
func (r *Router) Analyze(ctx context.Context, prompt, taskContext string) types.RoutingResponse {
	return r.runPreset(ctx, "analysis", prompt, taskContext)
}

// AnalyzeTicket runs a ticket analysis task
func (r *Router) AnalyzeTicket(ctx context.Context, prompt, taskContext string) types.RoutingResponse {
	return r.runPreset(ctx, "ticket_analysis", prompt, taskContext)
}

// Summarize runs a summarization task
func (r *Router) Summarize(ctx context.Context, prompt, taskContext string) types.RoutingResponse {
	return r.runPreset(ctx, "summarization", prompt, taskContext)
}

// Classify runs a classification task
func (r *Router) Classify(ctx context.Context, prompt, taskContext string) types.RoutingResponse {
	return r.runPreset(ctx, "classification", prompt, taskContext)
}

// GenerateCode runs a code generation task
func (r *Router) GenerateCode(ctx context.Context, prompt, taskContext string) types.RoutingResponse {
	return r.runPreset(ctx, "code_generation", prompt, taskContext)
}
