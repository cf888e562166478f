// Package models holds the shared domain types exchanged between the
// protocol core and the HTTP layer.
package models

import (
	"encoding/json"
	"fmt"
)

// ProofKind is the closed set of attribute proofs the system verifies.
// Each kind has its own circuit and verification key.
type ProofKind uint8

const (
	ProofKindAge ProofKind = iota
	ProofKindNationality
	ProofKindUniqueness

	// NumProofKinds bounds table lookups keyed by ProofKind.
	NumProofKinds = 3
)

var proofKindNames = [NumProofKinds]string{"age", "nationality", "uniqueness"}

// ParseProofKind maps a wire value (age|nationality|uniqueness) to its kind.
func ParseProofKind(s string) (ProofKind, error) {
	for k, name := range proofKindNames {
		if s == name {
			return ProofKind(k), nil
		}
	}
	return 0, fmt.Errorf("models: unknown proof type %q", s)
}

// Valid reports whether k is a member of the closed set.
func (k ProofKind) Valid() bool {
	return k < NumProofKinds
}

func (k ProofKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("ProofKind(%d)", uint8(k))
	}
	return proofKindNames[k]
}

// Bit returns the kind's position in the attributes-verified bitmap
// (1 = age, 2 = nationality, 4 = uniqueness), matching the on-ledger layout.
func (k ProofKind) Bit() uint8 {
	return 1 << uint8(k)
}

// MarshalJSON encodes the kind as its wire name.
func (k ProofKind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("models: cannot encode invalid proof kind %d", uint8(k))
	}
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name into the kind.
func (k *ProofKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseProofKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
