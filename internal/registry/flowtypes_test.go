package registry

import (
	"testing"

	"github.com/stratoshift/orchestrator/internal/model"
	"github.com/stratoshift/orchestrator/internal/orcherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func migrationType() *model.FlowTypeConfig {
	return &model.FlowTypeConfig{
		Name:        "migration",
		DisplayName: "Migration",
		Phases: []model.PhaseConfig{
			{Name: "plan", Order: 1, Required: true},
			{Name: "replicate", Order: 2, Required: true},
			{Name: "verify", Order: 3, Required: false},
			{Name: "cutover", Order: 4, Required: true},
		},
	}
}

func TestTypeRegistry_Register(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())

	require.NoError(t, r.Register(migrationType()))
	assert.True(t, r.IsRegistered("migration"))
	assert.Equal(t, []string{"migration"}, r.Types())
}

func TestTypeRegistry_RegisterDuplicate(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())

	require.NoError(t, r.Register(migrationType()))
	err := r.Register(migrationType())
	require.Error(t, err)
	assert.True(t, orcherr.IsCode(err, orcherr.ErrCodeDuplicateType))
}

func TestTypeRegistry_RegisterRejectsBadConfigs(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())

	tests := []struct {
		name string
		cfg  *model.FlowTypeConfig
	}{
		{"nil config", nil},
		{"empty name", &model.FlowTypeConfig{}},
		{"duplicate phase name", &model.FlowTypeConfig{
			Name: "bad",
			Phases: []model.PhaseConfig{
				{Name: "plan", Order: 1},
				{Name: "plan", Order: 2},
			},
		}},
		{"repeated order value", &model.FlowTypeConfig{
			Name: "bad",
			Phases: []model.PhaseConfig{
				{Name: "plan", Order: 1},
				{Name: "verify", Order: 1},
			},
		}},
		{"empty phase name", &model.FlowTypeConfig{
			Name:   "bad",
			Phases: []model.PhaseConfig{{Name: "", Order: 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.cfg)
			require.Error(t, err)
			assert.True(t, orcherr.IsCode(err, orcherr.ErrCodeInvalidArgument))
		})
	}
}

func TestTypeRegistry_GetConfig(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())
	require.NoError(t, r.Register(migrationType()))

	cfg, err := r.GetConfig("migration")
	require.NoError(t, err)
	assert.Equal(t, "migration", cfg.Name)
	assert.Len(t, cfg.Phases, 4)

	_, err = r.GetConfig("nonexistent")
	require.Error(t, err)
	assert.True(t, orcherr.IsCode(err, orcherr.ErrCodeUnknownType))
}

func TestTypeRegistry_GetPhaseConfig(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())
	require.NoError(t, r.Register(migrationType()))

	pc, err := r.GetPhaseConfig("migration", "replicate")
	require.NoError(t, err)
	assert.Equal(t, 2, pc.Order)
	assert.True(t, pc.Required)

	_, err = r.GetPhaseConfig("migration", "teardown")
	require.Error(t, err)
	assert.True(t, orcherr.IsCode(err, orcherr.ErrCodeInvalidPhase))
}

func TestTypeRegistry_NextPhase(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())
	require.NoError(t, r.Register(migrationType()))

	tests := []struct {
		current string
		want    string
	}{
		{"", "plan"},
		{"plan", "replicate"},
		{"replicate", "verify"},
		{"verify", "cutover"},
		{"cutover", ""},
		{"unknown", ""},
	}
	for _, tt := range tests {
		next, err := r.NextPhase("migration", tt.current)
		require.NoError(t, err)
		assert.Equal(t, tt.want, next, "current=%q", tt.current)
	}

	_, err := r.NextPhase("nonexistent", "")
	require.Error(t, err)
	assert.True(t, orcherr.IsCode(err, orcherr.ErrCodeUnknownType))
}

// Walking NextPhase from the first phase must reach "" in at most one
// step per phase, regardless of how the order values are spaced.
func TestTypeRegistry_NextPhaseTerminates(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())
	require.NoError(t, r.Register(&model.FlowTypeConfig{
		Name: "sparse",
		Phases: []model.PhaseConfig{
			{Name: "a", Order: 10},
			{Name: "b", Order: 35},
			{Name: "c", Order: 36},
			{Name: "d", Order: 900},
		},
	}))

	current := ""
	var visited []string
	for steps := 0; steps <= 4; steps++ {
		next, err := r.NextPhase("sparse", current)
		require.NoError(t, err)
		if next == "" {
			break
		}
		visited = append(visited, next)
		current = next
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, visited)

	next, err := r.NextPhase("sparse", "d")
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestTypeRegistry_NextPhaseUnorderedSlice(t *testing.T) {
	r := NewTypeRegistry(zap.NewNop())
	// Registration order does not have to match phase order.
	require.NoError(t, r.Register(&model.FlowTypeConfig{
		Name: "shuffled",
		Phases: []model.PhaseConfig{
			{Name: "last", Order: 3},
			{Name: "first", Order: 1},
			{Name: "middle", Order: 2},
		},
	}))

	next, err := r.NextPhase("shuffled", "")
	require.NoError(t, err)
	assert.Equal(t, "first", next)

	next, err = r.NextPhase("shuffled", "first")
	require.NoError(t, err)
	assert.Equal(t, "middle", next)
}
