// Package hasher exposes the circom-compatible Poseidon permutation over the
// BN254 scalar field. Digests computed here must equal the digests computed
// inside the proving circuits for identical inputs, which is why the iden3
// parameterization is used as-is rather than any local construction.
package hasher

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/zkidentity/attest/field"
)

// emptyDigest is the fixed sentinel for hashing an empty input set,
// Poseidon(0). Defined once; every caller that needs an "empty" digest uses
// this value.
var emptyDigest *big.Int

func init() {
	d, err := poseidon.Hash([]*big.Int{big.NewInt(0)})
	if err != nil {
		panic(fmt.Sprintf("hasher: computing empty digest: %v", err))
	}
	emptyDigest = d
}

// EmptyDigest returns the sentinel digest for empty input.
func EmptyDigest() *big.Int {
	return new(big.Int).Set(emptyDigest)
}

// Hash computes the Poseidon digest of one or two field elements. Inputs are
// positional: Hash(a, b) and Hash(b, a) differ in general, so callers with
// positional meaning (Merkle parents, nullifiers) must fix an order.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) < 1 || len(inputs) > 2 {
		return nil, fmt.Errorf("hasher: arity %d not supported", len(inputs))
	}
	return poseidon.Hash(inputs)
}

// HashBytes chunks each input buffer into field elements, then folds the
// concatenated chunk sequence through the 2-arity hash left to right,
// returning the canonical 32-byte encoding of the final digest. No inputs,
// or all-empty inputs, yield the empty sentinel.
func HashBytes(inputs ...[]byte) ([32]byte, error) {
	var chunks []*big.Int
	for _, in := range inputs {
		chunks = append(chunks, field.ChunkBytes(in)...)
	}

	if len(chunks) == 0 {
		return field.FieldToBytes(emptyDigest), nil
	}

	acc := chunks[0]
	for _, c := range chunks[1:] {
		next, err := poseidon.Hash([]*big.Int{acc, c})
		if err != nil {
			return [32]byte{}, fmt.Errorf("hasher: folding chunks: %w", err)
		}
		acc = next
	}
	if len(chunks) == 1 {
		// A single chunk still passes through the permutation so the output
		// is a digest, not the raw input.
		d, err := poseidon.Hash([]*big.Int{acc})
		if err != nil {
			return [32]byte{}, fmt.Errorf("hasher: hashing single chunk: %w", err)
		}
		acc = d
	}
	return field.FieldToBytes(acc), nil
}
