// Package nullifier derives and tracks one-time identity tokens. A
// registered nullifier is a permanent fact: insertion is atomic, the set is
// append-only, and a second insertion of the same value is a Sybil attempt,
// surfaced as ErrReuse.
package nullifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/zkidentity/attest/field"
	"github.com/zkidentity/attest/hasher"
	"github.com/zkidentity/attest/store"
)

// ErrReuse is returned when a nullifier is registered a second time.
var ErrReuse = errors.New("nullifier: already registered")

// Derive computes the canonical nullifier Poseidon(secret, credentialID).
// The argument order is fixed; every component that derives nullifiers must
// use this function so uniqueness holds system-wide.
func Derive(secret, credentialID *big.Int) ([32]byte, error) {
	d, err := hasher.Hash(secret, credentialID)
	if err != nil {
		return [32]byte{}, fmt.Errorf("nullifier: deriving: %w", err)
	}
	return field.FieldToBytes(d), nil
}

// Registry is the global deduplication set for nullifiers.
type Registry struct {
	set store.Store[struct{}]
}

// NewRegistry builds a registry on the injected keyed store.
func NewRegistry(set store.Store[struct{}]) *Registry {
	return &Registry{set: set}
}

// RegisterIfAbsent inserts the nullifier if it is not already present.
// Returns true for a fresh insert, false if it was already registered. The
// check-and-insert is atomic: of any number of concurrent callers with the
// same value, exactly one sees true.
func (r *Registry) RegisterIfAbsent(n [32]byte) bool {
	return r.set.InsertIfAbsent(key(n), struct{}{}, 0)
}

// Register inserts the nullifier, returning ErrReuse if it was already
// present.
func (r *Registry) Register(n [32]byte) error {
	if !r.RegisterIfAbsent(n) {
		return ErrReuse
	}
	return nil
}

// Contains reports whether the nullifier has been registered.
func (r *Registry) Contains(n [32]byte) bool {
	_, ok := r.set.Get(key(n))
	return ok
}

func key(n [32]byte) string {
	return hex.EncodeToString(n[:])
}
