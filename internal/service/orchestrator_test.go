package service

import (
	"context"
	"testing"
	"time"

	"github.com/stratoshift/orchestrator/internal/classifier"
	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/registry"
	"github.com/stratoshift/orchestrator/internal/serializer"
	"github.com/stratoshift/orchestrator/internal/store"
	"github.com/stratoshift/orchestrator/internal/tenant"
	"github.com/stratoshift/orchestrator/internal/tracker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEnv wires an orchestrator onto in-memory stores with a migration
// flow type registered.
type testEnv struct {
	orch        *Orchestrator
	flows       store.FlowStore
	tenantStore store.TenantStateStore
	types       *registry.TypeRegistry
	validators  *registry.ValidatorRegistry
	handlers    *registry.HandlerRegistry
	tracker     *tracker.Tracker
	ser         *serializer.Serializer
}

type envOption func(*envConfig)

type envConfig struct {
	flows        store.FlowStore
	quota        model.TenantQuota
	maxAttempts  int
	sensitiveKey []string
}

func withFlowStore(s store.FlowStore) envOption {
	return func(c *envConfig) { c.flows = s }
}

func withQuota(q model.TenantQuota) envOption {
	return func(c *envConfig) { c.quota = q }
}

func withMaxAttempts(n int) envOption {
	return func(c *envConfig) { c.maxAttempts = n }
}

func withSensitiveKeys(keys ...string) envOption {
	return func(c *envConfig) { c.sensitiveKey = keys }
}

type allowAllRoles struct{}

func (allowAllRoles) IsPlatformAdmin(context.Context, string) (bool, error) { return true, nil }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{maxAttempts: 3}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.flows == nil {
		cfg.flows = store.NewMemoryFlowStore()
	}

	logger := zap.NewNop()
	tenantStore := store.NewMemoryTenantStore()
	manager := tenant.NewManager(tenantStore, allowAllRoles{}, cfg.quota, nil, logger)

	secrets, err := serializer.NewStaticSecretProvider([]byte("test-secret"))
	require.NoError(t, err)
	ser, err := serializer.New(serializer.Options{SensitiveKeys: cfg.sensitiveKey}, secrets, logger)
	require.NoError(t, err)

	types := registry.NewTypeRegistry(logger)
	require.NoError(t, types.Register(&model.FlowTypeConfig{
		Name:        "migration",
		DisplayName: "Migration",
		Phases: []model.PhaseConfig{
			{Name: "plan", Order: 1, Required: true, Handler: "plan"},
			{Name: "replicate", Order: 2, Required: true, Handler: "replicate"},
			{Name: "verify", Order: 3, Required: false, Handler: "verify"},
			{Name: "cutover", Order: 4, Required: true, Handler: "cutover"},
		},
	}))

	handlers := registry.NewHandlerRegistry(logger)
	for _, name := range []string{"plan", "replicate", "verify", "cutover"} {
		phase := name
		handlers.Register(phase, func(_ context.Context, _ registry.HandlerRequest) (map[string]any, error) {
			return map[string]any{"done": phase}, nil
		})
	}

	trk := tracker.New(logger)
	orch := NewOrchestrator(
		types,
		registry.NewValidatorRegistry(),
		handlers,
		cfg.flows,
		manager,
		classifier.New(classifier.Config{}, logger),
		trk,
		ser,
		nil, // audit synchronously through the tracker
		Config{MaxPhaseAttempts: cfg.maxAttempts, BackoffBase: time.Millisecond},
		nil,
		logger,
	)

	return &testEnv{
		orch:        orch,
		flows:       cfg.flows,
		tenantStore: tenantStore,
		types:       types,
		validators:  orch.validators,
		handlers:    handlers,
		tracker:     trk,
		ser:         ser,
	}
}

func testAccess() model.AccessContext {
	return model.AccessContext{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		Isolation: model.IsolationStrict,
	}
}

// runPhases executes the named phases in order, requiring success.
func (e *testEnv) runPhases(t *testing.T, flowID string, phases ...string) {
	t.Helper()
	for _, phase := range phases {
		result, err := e.orch.ExecutePhase(context.Background(), testAccess(), flowID,
			phase, map[string]any{})
		require.NoError(t, err)
		require.True(t, result.Valid)
	}
}
