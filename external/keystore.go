package external

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// SeedKeyStore is the reference KeyStore: it just holds a seed that was
// handed to the process directly (a CLI flag or environment variable).
// Persistent storage is explicitly out of scope per §1 — this type exists
// only so cmd/agent reads its seed through the KeyStore method set rather
// than decoding it inline.
type SeedKeyStore struct {
	seed []byte
}

// NewSeedKeyStore validates that hexSeed decodes to exactly
// ed25519.SeedSize bytes before accepting it.
func NewSeedKeyStore(hexSeed string) (*SeedKeyStore, error) {
	raw, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode key seed: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("key seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	return &SeedKeyStore{seed: raw}, nil
}

func (s *SeedKeyStore) Seed() ([]byte, error) {
	return s.seed, nil
}
