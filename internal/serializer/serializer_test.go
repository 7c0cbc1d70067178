package serializer

import (
	"strings"
	"testing"

	"github.com/stratoshift/orchestrator/internal/orcherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSerializer(t *testing.T, opts Options) *Serializer {
	t.Helper()
	secrets, err := NewStaticSecretProvider([]byte("test-master-secret"))
	require.NoError(t, err)
	s, err := New(opts, secrets, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestSerializer_RoundTrip(t *testing.T) {
	s := newTestSerializer(t, Options{})

	state := map[string]any{
		"phases": map[string]any{
			"plan": map[string]any{"hosts": float64(12)},
		},
		"last_completed_phase": "plan",
		"notes":                []any{"first pass"},
	}

	blob, err := s.Serialize(state)
	require.NoError(t, err)

	restored, err := s.Deserialize(blob)
	require.NoError(t, err)
	assert.Equal(t, state, restored)
}

func TestSerializer_RoundTripEmptyState(t *testing.T) {
	s := newTestSerializer(t, Options{})

	blob, err := s.Serialize(map[string]any{})
	require.NoError(t, err)
	restored, err := s.Deserialize(blob)
	require.NoError(t, err)
	assert.Empty(t, restored)
}

func TestSerializer_CompressionRoundTrip(t *testing.T) {
	s := newTestSerializer(t, Options{CompressThreshold: 64})

	// Repetitive content well above the threshold compresses.
	state := map[string]any{"log": strings.Repeat("replicated block 42; ", 200)}
	blob, err := s.Serialize(state)
	require.NoError(t, err)

	uncompressedLen := len(strings.Repeat("replicated block 42; ", 200))
	assert.Less(t, len(blob), uncompressedLen)

	restored, err := s.Deserialize(blob)
	require.NoError(t, err)
	assert.Equal(t, state, restored)
}

func TestSerializer_SmallStateNotCompressed(t *testing.T) {
	s := newTestSerializer(t, Options{CompressThreshold: 1 << 20})

	state := map[string]any{"k": "v"}
	blob, err := s.Serialize(state)
	require.NoError(t, err)

	// The frame carries the payload verbatim below the threshold.
	assert.Contains(t, string(blob), `"gz":false`)
	restored, err := s.Deserialize(blob)
	require.NoError(t, err)
	assert.Equal(t, state, restored)
}

func TestSerializer_SizeCeilingExactBoundary(t *testing.T) {
	probe := newTestSerializer(t, Options{})
	state := map[string]any{"payload": strings.Repeat("x", 512)}

	blob, err := probe.Serialize(state)
	require.NoError(t, err)
	encodedLen := len(blob)

	// A ceiling of exactly the encoded size passes.
	atLimit := newTestSerializer(t, Options{MaxStateBytes: encodedLen})
	_, err = atLimit.Serialize(state)
	require.NoError(t, err)

	// One byte under fails with StateTooLarge.
	underLimit := newTestSerializer(t, Options{MaxStateBytes: encodedLen - 1})
	_, err = underLimit.Serialize(state)
	require.Error(t, err)
	assert.True(t, orcherr.IsCode(err, orcherr.ErrCodeStateTooLarge))
}

func TestSerializer_DeserializeRejectsGarbage(t *testing.T) {
	s := newTestSerializer(t, Options{})

	_, err := s.Deserialize([]byte("not json"))
	require.Error(t, err)

	_, err = s.Deserialize([]byte(`{"v":99,"gz":false,"p":"e30="}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported state format version")
}

func TestSerializer_EncryptDecryptSensitive(t *testing.T) {
	s := newTestSerializer(t, Options{SensitiveKeys: []string{"credentials", "secrets"}})

	state := map[string]any{
		"credentials": map[string]any{"user": "svc", "password": "hunter2"},
		"secrets":     "api-token-xyz",
		"hosts":       []any{"h1", "h2"},
	}

	sealed, err := s.EncryptSensitive(state)
	require.NoError(t, err)

	// Sensitive keys become envelopes; others pass through.
	_, isEnvelope := asEncrypted(sealed["credentials"])
	assert.True(t, isEnvelope)
	_, isEnvelope = asEncrypted(sealed["secrets"])
	assert.True(t, isEnvelope)
	assert.Equal(t, state["hosts"], sealed["hosts"])

	// No plaintext of the sensitive values leaks into the sealed form.
	blob, err := s.Serialize(sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "hunter2")
	assert.NotContains(t, string(blob), "api-token-xyz")

	opened, err := s.DecryptSensitive(sealed)
	require.NoError(t, err)
	assert.Equal(t, state, opened)
}

func TestSerializer_EncryptDecryptSurvivesSerialization(t *testing.T) {
	s := newTestSerializer(t, Options{SensitiveKeys: []string{"credentials"}})

	state := map[string]any{
		"credentials": map[string]any{"password": "hunter2"},
		"plain":       "visible",
	}

	sealed, err := s.EncryptSensitive(state)
	require.NoError(t, err)
	blob, err := s.Serialize(sealed)
	require.NoError(t, err)

	// After a full round trip the envelope arrives as a generic map and
	// must still be recognized and opened.
	restored, err := s.Deserialize(blob)
	require.NoError(t, err)
	opened, err := s.DecryptSensitive(restored)
	require.NoError(t, err)
	assert.Equal(t, state, opened)
}

func TestSerializer_EncryptSensitiveIdempotent(t *testing.T) {
	s := newTestSerializer(t, Options{SensitiveKeys: []string{"credentials"}})

	state := map[string]any{"credentials": "token"}
	once, err := s.EncryptSensitive(state)
	require.NoError(t, err)
	twice, err := s.EncryptSensitive(once)
	require.NoError(t, err)

	// Re-encrypting an envelope must not nest a second layer.
	assert.Equal(t, once, twice)

	opened, err := s.DecryptSensitive(twice)
	require.NoError(t, err)
	assert.Equal(t, state, opened)
}

func TestSerializer_DecryptRejectsWrongKey(t *testing.T) {
	s := newTestSerializer(t, Options{SensitiveKeys: []string{"credentials"}})
	sealed, err := s.EncryptSensitive(map[string]any{"credentials": "token"})
	require.NoError(t, err)

	otherSecrets, err := NewStaticSecretProvider([]byte("a-different-master-secret"))
	require.NoError(t, err)
	other, err := New(Options{SensitiveKeys: []string{"credentials"}}, otherSecrets, zap.NewNop())
	require.NoError(t, err)

	_, err = other.DecryptSensitive(sealed)
	require.Error(t, err)
}

func TestSerializer_NilState(t *testing.T) {
	s := newTestSerializer(t, Options{SensitiveKeys: []string{"credentials"}})

	out, err := s.EncryptSensitive(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = s.DecryptSensitive(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestStaticSecretProvider_RejectsEmptySecret(t *testing.T) {
	_, err := NewStaticSecretProvider(nil)
	require.Error(t, err)
}
