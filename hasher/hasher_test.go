package hasher_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkidentity/attest/hasher"
)

func TestHashDeterministic(t *testing.T) {
	a, err := hasher.Hash(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	b, err := hasher.Hash(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	assert.Zero(t, a.Cmp(b))
}

func TestHashOrderSensitive(t *testing.T) {
	ab, err := hasher.Hash(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	ba, err := hasher.Hash(big.NewInt(2), big.NewInt(1))
	require.NoError(t, err)
	assert.NotZero(t, ab.Cmp(ba), "Poseidon(1,2) must differ from Poseidon(2,1)")
}

func TestHashArity(t *testing.T) {
	_, err := hasher.Hash()
	require.Error(t, err)

	_, err = hasher.Hash(big.NewInt(1), big.NewInt(2), big.NewInt(3))
	require.Error(t, err)

	one, err := hasher.Hash(big.NewInt(7))
	require.NoError(t, err)
	assert.NotZero(t, one.Cmp(big.NewInt(7)))
}

func TestHashBytes(t *testing.T) {
	d1, err := hasher.HashBytes([]byte("owner"), []byte("commitment"))
	require.NoError(t, err)
	d2, err := hasher.HashBytes([]byte("owner"), []byte("commitment"))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	d3, err := hasher.HashBytes([]byte("commitment"), []byte("owner"))
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestHashBytesEmpty(t *testing.T) {
	d, err := hasher.HashBytes()
	require.NoError(t, err)
	d2, err := hasher.HashBytes([]byte{})
	require.NoError(t, err)
	assert.Equal(t, d, d2)

	// The sentinel is a fixed, non-zero digest.
	assert.NotEqual(t, [32]byte{}, d)
	assert.NotZero(t, hasher.EmptyDigest().Sign())
}
