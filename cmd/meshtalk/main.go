package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphan267/meshtalk/api"
	"github.com/tphan267/meshtalk/pkg/config"
	"github.com/tphan267/meshtalk/pkg/hub"
	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/providers"
	"github.com/tphan267/meshtalk/pkg/providers/auth"
	"github.com/tphan267/meshtalk/pkg/storage"
)

const version = "0.1.0"

func main() {
	var (
		configFile string
		logLevel   string
	)
	flag.StringVar(&configFile, "config", "meshtalk.yml", "Path to the configuration file")
	flag.StringVar(&logLevel, "loglevel", "", "Override the configured log level")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(version, configFile, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create structured logger
	appLogger := logger.NewDefault("MESHTALK")
	appLogger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	appLogger.Info("Starting MeshTalk v%s...", version)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(cfg.DBPath, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Create service registry and register all default services
	registry := createServiceRegistry(store, appLogger, cfg)

	// Initialize all services
	ctx := context.Background()
	if err := registry.InitializeAll(ctx); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Start runnable services (the signaling hub)
	if err := registry.StartRunnable(ctx); err != nil {
		log.Fatalf("Failed to start runnable services: %v", err)
	}

	// Create API server
	srv := api.New(registry)

	// Register service-specific routes
	if err := registry.RegisterAllRoutes(srv.App()); err != nil {
		log.Fatalf("Failed to register service routes: %v", err)
	}

	// Start server in a goroutine
	go func() {
		if err := srv.Start(cfg.ServerAddr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server shutdown error: %v", err)
	}

	// Shutdown all services
	if err := registry.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Service shutdown error: %v", err)
	}

	appLogger.Info("Server exited")
}

// createServiceRegistry creates and populates the service registry with default services
func createServiceRegistry(store storage.Storage, log *logger.Logger, cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(store, log, cfg)

	registry.MustRegister(auth.NewService())
	registry.MustRegister(hub.NewService())

	return registry
}
