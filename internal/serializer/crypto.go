package serializer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

const envelopeAlg = "aes-256-gcm"

// encryptedTag marks an encrypted envelope inside a generic state
// document. The tagged wrapper keeps ciphertext distinguishable from
// plaintext values after any number of JSON round trips.
const encryptedTag = "__encrypted__"

// EncryptedValue is the opaque envelope replacing a sensitive value.
type EncryptedValue struct {
	Alg        string `json:"alg"`
	Nonce      string `json:"nonce"`      // base64
	Ciphertext string `json:"ciphertext"` // base64
}

// envelope wraps an EncryptedValue under the tag key so detection never
// depends on value shape.
func envelope(ev EncryptedValue) map[string]any {
	return map[string]any{encryptedTag: map[string]any{
		"alg":        ev.Alg,
		"nonce":      ev.Nonce,
		"ciphertext": ev.Ciphertext,
	}}
}

// asEncrypted recognizes an envelope whether it is still the typed form
// or a generic map produced by deserialization.
func asEncrypted(v any) (*EncryptedValue, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	inner, ok := m[encryptedTag]
	if !ok || len(m) != 1 {
		return nil, false
	}
	fields, ok := inner.(map[string]any)
	if !ok {
		return nil, false
	}
	ev := EncryptedValue{}
	if ev.Alg, ok = fields["alg"].(string); !ok {
		return nil, false
	}
	if ev.Nonce, ok = fields["nonce"].(string); !ok {
		return nil, false
	}
	if ev.Ciphertext, ok = fields["ciphertext"].(string); !ok {
		return nil, false
	}
	return &ev, true
}

// seal encrypts the JSON encoding of a value with AES-256-GCM under a
// fresh random nonce.
func (s *Serializer) seal(value any) (map[string]any, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sensitive value: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)
	return envelope(EncryptedValue{
		Alg:        envelopeAlg,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}), nil
}

// open decrypts an envelope back into the original value.
func (s *Serializer) open(ev *EncryptedValue) (any, error) {
	if ev.Alg != envelopeAlg {
		return nil, fmt.Errorf("unsupported encryption algorithm: %s", ev.Alg)
	}
	nonce, err := base64.StdEncoding.DecodeString(ev.Nonce)
	if err != nil {
		return nil, fmt.Errorf("malformed nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ev.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext: %w", err)
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", err)
	}

	var value any
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, fmt.Errorf("failed to decode decrypted value: %w", err)
	}
	return value, nil
}

// newAEAD builds the AES-GCM cipher for the derived state key.
func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
