package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/config"
	"github.com/tributary-ai/llm-task-router/internal/credentials"
	"github.com/tributary-ai/llm-task-router/internal/ledger"
	"github.com/tributary-ai/llm-task-router/internal/metrics"
	"github.com/tributary-ai/llm-task-router/internal/providers"
	"github.com/tributary-ai/llm-task-router/internal/providers/anthropic"
	"github.com/tributary-ai/llm-task-router/internal/providers/gateway"
	"github.com/tributary-ai/llm-task-router/internal/providers/openai"
	"github.com/tributary-ai/llm-task-router/internal/routing"
	"github.com/tributary-ai/llm-task-router/internal/rules"
	"github.com/tributary-ai/llm-task-router/internal/server"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// Application represents the main application
type Application struct {
	config  *config.Config
	router  *routing.Router
	server  *server.Server
	ledger  *ledger.Store
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	app := &Application{config: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		app.metrics = metrics.New()
	}

	deps, err := app.buildDependencies()
	if err != nil {
		app.Close()
		return nil, err
	}

	app.router, err = routing.NewRouter(cfg.Router, deps, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	serverDeps := server.Dependencies{Metrics: app.metrics}
	if app.ledger != nil {
		serverDeps.Usage = app.ledger
	}
	app.server, err = server.NewServer(app.router, cfg.ToServerConfig(), serverDeps, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return app, nil
}

// buildDependencies wires the resolver, rule engine, executors and ledger
func (app *Application) buildDependencies() (routing.Dependencies, error) {
	cfg := app.config
	logger := app.logger

	engine, err := rules.NewEngine(cfg.Rules)
	if err != nil {
		return routing.Dependencies{}, fmt.Errorf("failed to create rule engine: %w", err)
	}

	resolver := credentials.NewDefaultResolver(cfg.Credentials, logger)

	deps := routing.Dependencies{
		Resolver: resolver,
		Engine:   engine,
		Executor: registerExecutors(cfg, resolver, logger),
		Metrics:  app.metrics,
	}

	if cfg.Router.Remote.Enabled {
		deps.Remote = routing.NewRemoteClient(cfg.Router.Remote, engine, logger)
	}

	if cfg.Ledger.Enabled {
		store, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return routing.Dependencies{}, fmt.Errorf("failed to open usage ledger: %w", err)
		}
		app.ledger = store
		deps.Ledger = store
		logger.WithField("path", cfg.Ledger.Path).Info("Usage ledger opened")
	}

	return deps, nil
}

// registerExecutors sends every model through the gateway unless a direct
// provider executor has an API key
func registerExecutors(cfg *config.Config, resolver credentials.Resolver, logger *logrus.Logger) providers.Executor {
	dispatcher := providers.NewDispatcher(gateway.NewExecutor(cfg.Gateway, resolver, logger), logger)

	if cfg.Providers.OpenAI != nil && cfg.Providers.OpenAI.APIKey != "" {
		dispatcher.Register(openai.ProviderName, openai.NewOpenAIExecutor(cfg.Providers.OpenAI, logger))
	}
	if cfg.Providers.Anthropic != nil && cfg.Providers.Anthropic.APIKey != "" {
		dispatcher.Register(anthropic.ProviderName, anthropic.NewAnthropicExecutor(cfg.Providers.Anthropic, logger))
	}

	logger.WithField("direct_providers", dispatcher.Providers()).Info("Model executors registered")
	return dispatcher
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.WithField("version", version).Info("Starting LLM task router")
	defer app.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// RunOnce routes a single request and writes the response as JSON
func (app *Application) RunOnce(ctx context.Context, req types.RoutingRequest, out io.Writer) error {
	defer app.Close()

	resp := app.router.Route(ctx, req)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Close releases the ledger
func (app *Application) Close() {
	if app.ledger == nil {
		return
	}
	if err := app.ledger.Close(); err != nil {
		app.logger.WithError(err).Warn("Failed to close usage ledger")
	}
	app.ledger = nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  DEIMOS_API_URL              Routing service URL\n")
	fmt.Fprintf(os.Stderr, "  DEIMOS_API_KEY              Routing service API key\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY              Call OpenAI models directly\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY           Call Anthropic models directly\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_PORT             Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_LEVEL        Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_FORMAT       Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_REMOTE_ENABLED   Ask the routing service for decisions\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LEDGER_PATH      Record routed calls in this SQLite file\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s -config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -task classification -prompt \"Is this spam?\" -cost-priority 0.9\n", os.Args[0])
}

func main() {
	var (
		configPath   = flag.String("config", "", "Path to configuration file (.yaml or .toml)")
		showHelp     = flag.Bool("help", false, "Show help message")
		showVersion  = flag.Bool("version", false, "Show version information")
		prompt       = flag.String("prompt", "", "Route a single prompt and print the response as JSON")
		taskType     = flag.String("task", "", "Task type for -prompt")
		taskContext  = flag.String("context", "", "Extra context for -prompt")
		costPriority = flag.Float64("cost-priority", 0.5, "Cost priority for -prompt, 0 (cheapest) to 1 (best)")
		explain      = flag.Bool("explain", false, "Include the rule trace with -prompt")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("LLM Task Router %s\n", version)
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if *prompt != "" {
		req := types.RoutingRequest{
			TaskType:     types.TaskType(*taskType),
			Prompt:       *prompt,
			Context:      *taskContext,
			CostPriority: *costPriority,
			Explain:      *explain,
		}
		if err := app.RunOnce(context.Background(), req, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write response: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
