package main

import (
	"context"
	"testing"

	"github.com/tphan267/meshtalk/pkg/config"
	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/providers"
	"github.com/tphan267/meshtalk/pkg/storage"
)

func TestServiceRegistryIntegration(t *testing.T) {
	// Setup test database
	store, err := storage.NewSQLiteStorage(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer store.Close()

	testLogger := logger.NewDefault("TEST")
	testLogger.SetLevel(logger.ErrorLevel)
	cfg := &config.Config{}

	registry := createServiceRegistry(store, testLogger, cfg)

	// Initialize all services
	ctx := context.Background()
	if err := registry.InitializeAll(ctx); err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}

	// Test typed getters
	authProvider, err := registry.GetAuth()
	if err != nil {
		t.Errorf("Failed to get auth provider: %v", err)
	}
	if authProvider == nil {
		t.Error("Expected auth provider, got nil")
	}

	hubService, err := registry.GetHub()
	if err != nil {
		t.Errorf("Failed to get hub service: %v", err)
	}
	if hubService == nil {
		t.Error("Expected hub service, got nil")
	}
	if !hubService.IsRunnable() {
		t.Error("Expected the hub service to be runnable")
	}

	// Registering a duplicate service name must fail
	if err := registry.Register(duplicateService{}); err == nil {
		t.Error("Expected error registering a duplicate service name")
	}

	// Shutdown should stop every service cleanly
	if err := registry.Shutdown(ctx); err != nil {
		t.Errorf("Failed to shut down services: %v", err)
	}
}

type duplicateService struct{}

func (duplicateService) Name() string                                          { return "auth" }
func (duplicateService) Initialize(context.Context, *providers.Registry) error { return nil }
func (duplicateService) IsRunnable() bool                                      { return false }
func (duplicateService) Start(context.Context) error                           { return nil }
func (duplicateService) Stop(context.Context) error                            { return nil }
func (duplicateService) RegisterAPIRoutes(interface{}) error                   { return nil }
