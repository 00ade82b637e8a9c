package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key identifies a cached completion. Two requests share a key exactly
// when they would send the same payload to the same provider and model.
type Key struct {
	// Provider is the provider identifier (e.g. "openai").
	Provider string

	// Model is the model name the payload targets.
	Model string

	// PayloadHash is the hex SHA-256 of the serialized wire payload.
	PayloadHash string
}

// NewKey builds a content-addressed key from the serialized payload.
func NewKey(provider, model string, payload []byte) Key {
	sum := sha256.Sum256(payload)
	return Key{
		Provider:    provider,
		Model:       model,
		PayloadHash: hex.EncodeToString(sum[:]),
	}
}

// String generates a deterministic Redis key.
// Format: llm:completion:provider:model:hash
func (k Key) String() string {
	return strings.Join([]string{"llm", "completion", k.Provider, k.Model, k.PayloadHash}, ":")
}
