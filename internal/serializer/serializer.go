// Package serializer converts in-memory flow state to a durable,
// size-capped byte representation and back, with field-level encryption
// for sensitive sub-trees.
package serializer

import (
	"bytes"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/stratoshift/orchestrator/internal/orcherr"
	"go.uber.org/zap"
)

const (
	// DefaultMaxStateBytes bounds serialized flow state in the shared
	// store (10MB).
	DefaultMaxStateBytes = 10 << 20

	// DefaultCompressThreshold is the encoded size above which payloads
	// are gzip-compressed.
	DefaultCompressThreshold = 32 << 10

	formatVersion = 1
)

// Options configures a Serializer.
type Options struct {
	MaxStateBytes     int
	CompressThreshold int

	// SensitiveKeys lists the top-level state keys replaced with an
	// encrypted envelope by EncryptSensitive.
	SensitiveKeys []string
}

// frame is the durable wrapper around the encoded state. Internal
// metadata is stripped before Deserialize returns.
type frame struct {
	Version    int    `json:"v"`
	Compressed bool   `json:"gz"`
	Payload    []byte `json:"p"`
}

// Serializer encodes, compresses, bounds, and encrypts flow state.
type Serializer struct {
	opts      Options
	aead      cipher.AEAD
	sensitive map[string]struct{}
	logger    *zap.Logger
}

// New creates a Serializer, deriving the encryption key from the secret
// provider.
func New(opts Options, secrets SecretProvider, logger *zap.Logger) (*Serializer, error) {
	if opts.MaxStateBytes <= 0 {
		opts.MaxStateBytes = DefaultMaxStateBytes
	}
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}

	key, err := deriveStateKey(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	sensitive := make(map[string]struct{}, len(opts.SensitiveKeys))
	for _, k := range opts.SensitiveKeys {
		sensitive[k] = struct{}{}
	}

	return &Serializer{
		opts:      opts,
		aead:      aead,
		sensitive: sensitive,
		logger:    logger,
	}, nil
}

// MaxStateBytes returns the configured size ceiling
func (s *Serializer) MaxStateBytes() int {
	return s.opts.MaxStateBytes
}

// Serialize encodes state into its durable representation. Fails with
// StateTooLarge when the encoded representation exceeds the ceiling;
// oversized state is a caller error, not a transient condition.
func (s *Serializer) Serialize(state map[string]any) ([]byte, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	f := frame{Version: formatVersion, Payload: payload}
	if len(payload) > s.opts.CompressThreshold {
		compressed, err := gzipBytes(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to compress state: %w", err)
		}
		// Keep the smaller representation; already-compressed data can
		// expand under gzip.
		if len(compressed) < len(payload) {
			f.Compressed = true
			f.Payload = compressed
		}
	}

	encoded, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state frame: %w", err)
	}

	if len(encoded) > s.opts.MaxStateBytes {
		return nil, orcherr.StateTooLarge(len(encoded), s.opts.MaxStateBytes)
	}
	return encoded, nil
}

// Deserialize restores state from its durable representation, stripping
// frame metadata.
func (s *Serializer) Deserialize(data []byte) (map[string]any, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode state frame: %w", err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("unsupported state format version: %d", f.Version)
	}

	payload := f.Payload
	if f.Compressed {
		var err error
		if payload, err = gunzipBytes(payload); err != nil {
			return nil, fmt.Errorf("failed to decompress state: %w", err)
		}
	}

	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return state, nil
}

// EncryptSensitive returns a copy of state with every configured
// sensitive top-level key replaced by an encrypted envelope. Other keys
// pass through untouched. Already-encrypted envelopes are left as is.
func (s *Serializer) EncryptSensitive(state map[string]any) (map[string]any, error) {
	if state == nil {
		return nil, nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		if _, isSensitive := s.sensitive[k]; !isSensitive {
			out[k] = v
			continue
		}
		if _, already := asEncrypted(v); already {
			out[k] = v
			continue
		}
		sealed, err := s.seal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt key %q: %w", k, err)
		}
		out[k] = sealed
	}
	return out, nil
}

// DecryptSensitive is the exact inverse of EncryptSensitive: every
// encrypted envelope found at the top level is replaced by the original
// value.
func (s *Serializer) DecryptSensitive(state map[string]any) (map[string]any, error) {
	if state == nil {
		return nil, nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		ev, ok := asEncrypted(v)
		if !ok {
			out[k] = v
			continue
		}
		value, err := s.open(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key %q: %w", k, err)
		}
		out[k] = value
	}
	return out, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
