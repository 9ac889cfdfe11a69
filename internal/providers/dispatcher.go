package providers

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// Dispatcher sends each call to the executor registered for the model's
// provider prefix, or to the default executor when none is registered.
type Dispatcher struct {
	fallback Executor
	direct   map[string]Executor
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher that uses def for unregistered providers
func NewDispatcher(def Executor, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		fallback: def,
		direct:   make(map[string]Executor),
		logger:   logger,
	}
}

// Register routes every "<provider>/..." model to exec. It is not safe to
// call concurrently with Execute.
func (d *Dispatcher) Register(provider string, exec Executor) {
	d.direct[provider] = exec
	d.logger.WithField("provider", provider).Info("Registered direct executor")
}

// Providers lists the providers with a direct executor
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.direct))
	for name := range d.direct {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements Executor
func (d *Dispatcher) Execute(ctx context.Context, call Call) (string, error) {
	if exec, ok := d.direct[types.ProviderOf(call.Model)]; ok {
		return exec.Execute(ctx, call)
	}
	return d.fallback.Execute(ctx, call)
}

var _ Executor = (*Dispatcher)(nil)
