package auth

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Default worker key configuration.
const (
	DefaultKeyPrefix       = "dgw_"
	DefaultKeyLength       = 32
	DefaultKeyPrefixLength = 12
)

const keyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// WorkerKeyConfig holds configuration for worker key generation.
type WorkerKeyConfig struct {
	// Prefix is prepended to all keys. Defaults to "dgw_".
	Prefix string

	// RandomLength is the length of the random part. Defaults to 32.
	RandomLength int

	// PrefixLength is how many characters the display prefix shows.
	// Defaults to 12.
	PrefixLength int
}

func (c WorkerKeyConfig) prefix() string {
	if c.Prefix == "" {
		return DefaultKeyPrefix
	}
	return c.Prefix
}

func (c WorkerKeyConfig) randomLength() int {
	if c.RandomLength == 0 {
		return DefaultKeyLength
	}
	return c.RandomLength
}

func (c WorkerKeyConfig) prefixLength() int {
	if c.PrefixLength == 0 {
		return DefaultKeyPrefixLength
	}
	return c.PrefixLength
}

// WorkerKey is a freshly generated worker credential. Secret is only
// available at creation; the control plane stores Hash and shows Prefix
// in listings.
type WorkerKey struct {
	// ID uniquely identifies the key for revocation.
	ID string

	// Secret is the full key, handed to the worker once.
	Secret string

	// Prefix is the truncated display form.
	Prefix string

	// Hash is the SHA-256 hash stored by the control plane.
	Hash string
}

// GenerateWorkerKey creates a new worker key.
func GenerateWorkerKey(cfg WorkerKeyConfig) (*WorkerKey, error) {
	random, err := nanoid.Generate(keyAlphabet, cfg.randomLength())
	if err != nil {
		return nil, fmt.Errorf("generate worker key: %w", err)
	}

	secret := cfg.prefix() + random

	id, err := nanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate worker key id: %w", err)
	}

	return &WorkerKey{
		ID:     "key_" + id,
		Secret: secret,
		Prefix: DisplayPrefix(secret, cfg),
		Hash:   HashToken(secret),
	}, nil
}

// ValidateKeyFormat checks whether key matches the expected shape before
// any hash lookup.
func ValidateKeyFormat(key string, cfg WorkerKeyConfig) bool {
	prefix := cfg.prefix()
	return strings.HasPrefix(key, prefix) && len(key) == len(prefix)+cfg.randomLength()
}

// DisplayPrefix returns the truncated form of a key for listings.
func DisplayPrefix(key string, cfg WorkerKeyConfig) string {
	prefixLen := cfg.prefixLength()
	if len(key) <= prefixLen {
		return key
	}
	return key[:prefixLen] + "..."
}
