package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/consumer"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/container"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/routes"
	"github.com/tessera-ai/flowengine/common/bootstrap"
	"github.com/tessera-ai/flowengine/common/db"
	"github.com/tessera-ai/flowengine/common/repository"
	"github.com/tessera-ai/flowengine/common/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (config, logger, DB, Redis)
	components, err := bootstrap.Setup(ctx, "flow-runner",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return repository.EnsureSchema(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap flow-runner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all collaborators created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// Start the async submission consumer
	executionConsumer := consumer.NewExecutionConsumer(
		serviceContainer.Queue,
		serviceContainer.Engine,
		components.Logger,
	)
	if err := executionConsumer.Start(ctx); err != nil {
		components.Logger.Error("failed to start execution consumer", "error", err)
		os.Exit(1)
	}

	// Start pprof when profiling is enabled
	if os.Getenv("ENABLE_PPROF") == "true" {
		tel := telemetry.New(6060, components.Logger)
		if err := tel.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
		}
	}

	// Initialize Echo server
	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e)
	registerRoutes(e, serviceContainer)

	// Start server with graceful shutdown
	startServer(ctx, cancel, e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "flow-runner",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterExecutionRoutes(e, serviceContainer)
	routes.RegisterInboundRoutes(e, serviceContainer)
}

// startServer starts the Echo server and shuts it down on SIGINT/SIGTERM,
// letting in-flight executions finish within the drain window
func startServer(ctx context.Context, cancel context.CancelFunc, e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting flow-runner", "port", port)

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
			components.Logger.Info("HTTP server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	components.Logger.Info("flow-runner shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		components.Logger.Error("server shutdown error", "error", err)
	}
}
