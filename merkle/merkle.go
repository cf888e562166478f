// Package merkle compresses identity records into single state hashes and
// builds/verifies binary Merkle inclusion proofs over Poseidon parents.
package merkle

import (
	"fmt"
	"math/big"

	"github.com/zkidentity/attest/field"
	"github.com/zkidentity/attest/hasher"
)

// CompressIdentity folds an identity record into one 32-byte state hash:
// Poseidon(Poseidon(owner, commitment), merkleRoot). The fold order is fixed;
// the on-ledger program computes the same value from the same three inputs.
func CompressIdentity(owner, commitment, merkleRoot [32]byte) ([32]byte, error) {
	ownerEl, err := field.BytesToField(owner[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("merkle: owner: %w", err)
	}
	commitmentEl, err := field.BytesToField(commitment[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("merkle: commitment: %w", err)
	}
	rootEl, err := field.BytesToField(merkleRoot[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("merkle: root: %w", err)
	}

	inner, err := hasher.Hash(ownerEl, commitmentEl)
	if err != nil {
		return [32]byte{}, err
	}
	state, err := hasher.Hash(inner, rootEl)
	if err != nil {
		return [32]byte{}, err
	}
	return field.FieldToBytes(state), nil
}

// Parent hashes two siblings into their parent node. Left and right are not
// interchangeable.
func Parent(left, right *big.Int) (*big.Int, error) {
	return hasher.Hash(left, right)
}

// VerifyInclusion walks a proof bottom-up from leaf to root. pathBits[i]
// true means the current node is the left child at level i; false means it
// is the right child. Returns false on any length mismatch between siblings
// and pathBits: a malformed proof never verifies.
func VerifyInclusion(leaf *big.Int, siblings []*big.Int, pathBits []bool, root *big.Int) bool {
	if len(siblings) != len(pathBits) {
		return false
	}

	current := leaf
	for i, sibling := range siblings {
		var (
			next *big.Int
			err  error
		)
		if pathBits[i] {
			next, err = Parent(current, sibling)
		} else {
			next, err = Parent(sibling, current)
		}
		if err != nil {
			return false
		}
		current = next
	}
	return current.Cmp(root) == 0
}
