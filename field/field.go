// Package field converts byte buffers to and from BN254 scalar field
// elements. Every element handled here is canonically reduced: inputs that
// would land outside the field are rejected, never silently wrapped.
package field

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/utils"
)

// ErrOverflow is returned when a byte buffer decodes to an integer that is
// not strictly below the field modulus.
var ErrOverflow = errors.New("field: value exceeds modulus")

// ChunkSize is the number of bytes packed into a single field element by
// ChunkBytes. 31 bytes = 248 bits, strictly below the 254-bit modulus, so
// every chunk is a valid element without reduction. The circuit compiler
// packs witness bytes the same way; changing this breaks digest
// compatibility.
const ChunkSize = 31

// ElementSize is the canonical encoded size of a field element in bytes.
const ElementSize = 32

// Modulus returns the BN254 scalar field modulus as a fresh big.Int.
func Modulus() *big.Int {
	return new(big.Int).Set(constants.Q)
}

func init() {
	// constants.Q (iden3) and fr.Modulus (gnark-crypto) describe the same
	// curve; a mismatch here means mixed-up dependency versions.
	if constants.Q.Cmp(fr.Modulus()) != 0 {
		panic("field: BN254 scalar modulus mismatch between iden3 and gnark-crypto")
	}
}

// BytesToField interprets b as a little-endian unsigned integer and returns
// it as a field element. Fails with ErrOverflow if the value is >= the
// modulus.
func BytesToField(b []byte) (*big.Int, error) {
	v := new(big.Int).SetBytes(utils.SwapEndianness(b))
	if v.Cmp(constants.Q) >= 0 {
		return nil, fmt.Errorf("%w: %d bytes decode out of range", ErrOverflow, len(b))
	}
	return v, nil
}

// FieldToBytes returns the canonical little-endian encoding of e, zero-padded
// to 32 bytes.
func FieldToBytes(e *big.Int) [ElementSize]byte {
	var out [ElementSize]byte
	copy(out[:], utils.SwapEndianness(e.Bytes()))
	return out
}

// FromString parses a decimal field element, enforcing canonical reduction.
func FromString(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("field: invalid decimal %q", s)
	}
	if v.Sign() < 0 || v.Cmp(constants.Q) >= 0 {
		return nil, ErrOverflow
	}
	return v, nil
}

// ChunkBytes splits buf into ChunkSize-byte chunks, in order, the last chunk
// zero-padded on the right, and decodes each as a little-endian field
// element. An empty buffer yields no chunks.
func ChunkBytes(buf []byte) []*big.Int {
	if len(buf) == 0 {
		return nil
	}
	n := (len(buf) + ChunkSize - 1) / ChunkSize
	chunks := make([]*big.Int, 0, n)
	for start := 0; start < len(buf); start += ChunkSize {
		end := min(start+ChunkSize, len(buf))
		var chunk [ChunkSize]byte
		copy(chunk[:], buf[start:end])
		// 248 bits can never overflow the modulus, so no error path.
		chunks = append(chunks, new(big.Int).SetBytes(utils.SwapEndianness(chunk[:])))
	}
	return chunks
}
