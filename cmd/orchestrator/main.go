package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stratoshift/orchestrator/internal/classifier"
	"github.com/stratoshift/orchestrator/internal/config"
	"github.com/stratoshift/orchestrator/internal/metrics"
	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/registry"
	"github.com/stratoshift/orchestrator/internal/serializer"
	"github.com/stratoshift/orchestrator/internal/service"
	"github.com/stratoshift/orchestrator/internal/store"
	"github.com/stratoshift/orchestrator/internal/tenant"
	"github.com/stratoshift/orchestrator/internal/tracker"
	"github.com/stratoshift/orchestrator/internal/util/workerpool"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting flow orchestration service")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Bool("postgres", cfg.Database.Host != ""),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Int("max_phase_attempts", cfg.Orchestrator.MaxPhaseAttempts))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger.Info("Metrics initialized")

	// Flow store: PostgreSQL when configured, in-memory otherwise.
	var flowStore store.FlowStore
	if cfg.Database.Host != "" {
		flowStore, err = store.NewPostgresFlowStore(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize flow store", zap.Error(err))
		}
	} else {
		flowStore = store.NewMemoryFlowStore()
	}
	defer flowStore.Close()
	logger.Info("Flow store initialized")

	// Tenant state store: Redis when configured, in-memory otherwise.
	var tenantStore store.TenantStateStore
	if cfg.Redis.Host != "" {
		tenantStore, err = store.NewRedisTenantStore(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize tenant state store", zap.Error(err))
		}
	} else {
		tenantStore = store.NewMemoryTenantStore()
	}
	defer tenantStore.Close()
	logger.Info("Tenant state store initialized")

	secrets, err := serializer.NewStaticSecretProvider([]byte(cfg.Orchestrator.MasterSecret))
	if err != nil {
		logger.Fatal("Failed to initialize secret provider", zap.Error(err))
	}
	ser, err := serializer.New(serializer.Options{
		MaxStateBytes:     cfg.Orchestrator.MaxStateBytes,
		CompressThreshold: cfg.Orchestrator.CompressThreshold,
		SensitiveKeys:     cfg.Orchestrator.SensitiveKeys,
	}, secrets, logger)
	if err != nil {
		logger.Fatal("Failed to initialize state serializer", zap.Error(err))
	}

	typeRegistry := registry.NewTypeRegistry(logger)
	registerFlowTypes(typeRegistry, logger)
	validatorRegistry := registry.NewValidatorRegistry()
	handlerRegistry := registry.NewHandlerRegistry(logger)

	tenantManager := tenant.NewManager(
		tenantStore,
		envRoleChecker{},
		model.TenantQuota{
			MaxConcurrentFlows:  cfg.Tenant.MaxConcurrentFlows,
			MaxTotalFlowsPerDay: cfg.Tenant.MaxTotalFlowsPerDay,
			MaxStorageMB:        cfg.Tenant.MaxStorageMB,
		},
		m,
		logger,
	)

	cls := classifier.New(classifier.Config{
		BreakerThreshold: cfg.Orchestrator.BreakerThreshold,
		BreakerCoolDown:  cfg.Orchestrator.BreakerCoolDown,
	}, logger)

	trk := tracker.New(logger)

	auditPool := workerpool.New(workerpool.Config{
		Name:      "audit",
		Workers:   cfg.Orchestrator.AuditWorkers,
		QueueSize: cfg.Orchestrator.AuditQueueSize,
		Logger:    logger,
	})
	defer auditPool.Stop()

	orchestrator := service.NewOrchestrator(
		typeRegistry,
		validatorRegistry,
		handlerRegistry,
		flowStore,
		tenantManager,
		cls,
		trk,
		ser,
		auditPool,
		service.Config{
			MaxPhaseAttempts:  cfg.Orchestrator.MaxPhaseAttempts,
			BackoffBase:       cfg.Orchestrator.BackoffBase,
			BackoffMultiplier: cfg.Orchestrator.BackoffMultiplier,
		},
		m,
		logger,
	)
	logger.Info("Orchestrator initialized",
		zap.Strings("flow_types", typeRegistry.Types()))

	// Report flows that survived the last restart. They stay paused or
	// running until their owners resume them explicitly.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	surviving, err := orchestrator.ActiveFlows(startupCtx, model.AccessContext{
		TenantID:  "platform",
		UserID:    "system",
		Isolation: model.IsolationRelaxed,
	}, 0)
	cancelStartup()
	if err != nil {
		logger.Warn("Failed to scan for surviving flows", zap.Error(err))
	} else if len(surviving) > 0 {
		logger.Info("Flows survived restart awaiting resume",
			zap.Int("count", len(surviving)))
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := flowStore.Ping(ctx); err != nil {
				http.Error(w, "flow store unavailable", http.StatusServiceUnavailable)
				return
			}
			if err := tenantStore.Ping(ctx); err != nil {
				http.Error(w, "tenant store unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("Metrics server listening",
				zap.Int("port", cfg.Metrics.Port),
				zap.String("path", cfg.Metrics.Path))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
	logger.Info("Shutdown complete")
}

// registerFlowTypes seeds the catalog with the migration-planning flow
// types the platform ships.
func registerFlowTypes(r *registry.TypeRegistry, logger *zap.Logger) {
	flowTypes := []*model.FlowTypeConfig{
		{
			Name:        "discovery",
			DisplayName: "Environment Discovery",
			Phases: []model.PhaseConfig{
				{Name: "data_import", Order: 1, Required: true,
					Validators: []string{registry.ValidatorRequiredFields, registry.ValidatorResourceLimits},
					ValidatorOverrides: map[string]any{
						"required_fields": []string{"source"},
					}},
				{Name: "asset_inventory", Order: 2, Required: true,
					Validators: []string{registry.ValidatorPhaseTransition},
					ValidatorOverrides: map[string]any{
						"allowed_after": []string{"data_import"},
					}},
				{Name: "dependency_mapping", Order: 3, Required: false},
				{Name: "report", Order: 4, Required: true,
					Handler: registry.HandlerAuditLogging},
			},
		},
		{
			Name:        "assessment",
			DisplayName: "Migration Assessment",
			Phases: []model.PhaseConfig{
				{Name: "readiness_scan", Order: 1, Required: true},
				{Name: "risk_scoring", Order: 2, Required: true},
				{Name: "wave_planning", Order: 3, Required: false},
				{Name: "signoff", Order: 4, Required: true,
					Handler: registry.HandlerAuditLogging},
			},
		},
		{
			Name:        "migration_execution",
			DisplayName: "Migration Execution",
			Phases: []model.PhaseConfig{
				{Name: "preflight", Order: 1, Required: true},
				{Name: "replication", Order: 2, Required: true},
				{Name: "cutover", Order: 3, Required: true},
				{Name: "validation", Order: 4, Required: true},
				{Name: "decommission", Order: 5, Required: false},
			},
		},
	}

	for _, cfg := range flowTypes {
		if err := r.Register(cfg); err != nil {
			logger.Fatal("Failed to register flow type",
				zap.String("flow_type", cfg.Name),
				zap.Error(err))
		}
	}
}

// envRoleChecker grants platform-admin rights to the users listed in
// PLATFORM_ADMINS. Production deployments replace this with the identity
// service client.
type envRoleChecker struct{}

func (envRoleChecker) IsPlatformAdmin(_ context.Context, userID string) (bool, error) {
	admins := os.Getenv("PLATFORM_ADMINS")
	if admins == "" || userID == "" {
		return false, nil
	}
	for _, admin := range strings.Split(admins, ",") {
		if strings.TrimSpace(admin) == userID {
			return true, nil
		}
	}
	return false, nil
}
