package identity_test

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkidentity/attest/field"
	"github.com/zkidentity/attest/identity"
	"github.com/zkidentity/attest/merkle"
	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/nullifier"
	"github.com/zkidentity/attest/store"
)

func newRegistry() *identity.Registry {
	return identity.NewRegistry(nullifier.NewRegistry(store.NewMemory[struct{}]()))
}

func commitmentBytes(v int64) [32]byte {
	return field.FieldToBytes(big.NewInt(v))
}

func mustNullifier(t *testing.T, secret, credential int64) [32]byte {
	t.Helper()
	n, err := nullifier.Derive(big.NewInt(secret), big.NewInt(credential))
	require.NoError(t, err)
	return n
}

func TestRegisterAndGet(t *testing.T) {
	r := newRegistry()

	rec, err := r.Register("alice", commitmentBytes(100), mustNullifier(t, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Owner)
	assert.Zero(t, rec.Attributes)
	assert.False(t, rec.Verified)
	assert.NotEqual(t, [32]byte{}, rec.StateHash)
	assert.Equal(t, uint64(1), r.Total())

	got, err := r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	byCommitment, err := r.GetByCommitment(commitmentBytes(100))
	require.NoError(t, err)
	assert.Equal(t, rec, byCommitment)

	_, err = r.Get("bob")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestRegisterDuplicates(t *testing.T) {
	r := newRegistry()

	_, err := r.Register("alice", commitmentBytes(100), mustNullifier(t, 1, 2))
	require.NoError(t, err)

	_, err = r.Register("alice", commitmentBytes(200), mustNullifier(t, 3, 4))
	require.ErrorIs(t, err, identity.ErrAlreadyRegistered)

	_, err = r.Register("bob", commitmentBytes(100), mustNullifier(t, 5, 6))
	require.ErrorIs(t, err, identity.ErrAlreadyRegistered)

	// Same nullifier as alice's registration: Sybil attempt.
	_, err = r.Register("bob", commitmentBytes(200), mustNullifier(t, 1, 2))
	require.ErrorIs(t, err, nullifier.ErrReuse)

	// The rejected registrations must not have consumed bob's slot.
	_, err = r.Register("bob", commitmentBytes(200), mustNullifier(t, 3, 4))
	require.ErrorIs(t, err, nullifier.ErrReuse, "duplicate-owner rejection must not burn a nullifier")
}

func TestMarkVerifiedIdempotent(t *testing.T) {
	r := newRegistry()
	commitment := commitmentBytes(100)
	_, err := r.Register("alice", commitment, mustNullifier(t, 1, 2))
	require.NoError(t, err)

	var proofHash, inputsHash [32]byte
	proofHash[0] = 0xaa
	inputsHash[0] = 0xbb

	rec, err := r.MarkVerified(commitment, models.ProofKindAge, proofHash, inputsHash)
	require.NoError(t, err)
	assert.Equal(t, models.ProofKindAge.Bit(), rec.Attributes)
	assert.True(t, rec.Verified)

	again, err := r.MarkVerified(commitment, models.ProofKindAge, proofHash, inputsHash)
	require.NoError(t, err)
	assert.Equal(t, rec.Attributes, again.Attributes, "re-verification must not change the bitmap")

	rec, err = r.MarkVerified(commitment, models.ProofKindNationality, proofHash, inputsHash)
	require.NoError(t, err)
	assert.Equal(t, models.ProofKindAge.Bit()|models.ProofKindNationality.Bit(), rec.Attributes)

	audits, err := r.Audits("alice")
	require.NoError(t, err)
	require.Len(t, audits, 3)
	assert.Equal(t, models.ProofKindNationality, audits[2].Kind)
}

func TestMarkVerifiedRootStaysFresh(t *testing.T) {
	r := newRegistry()
	commitment := commitmentBytes(100)
	_, err := r.Register("alice", commitment, mustNullifier(t, 1, 2))
	require.NoError(t, err)

	// Race registrations against bitmap updates; every returned record must
	// carry the root current at the time of the update.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := r.Register(fmt.Sprintf("user-%d", i),
				commitmentBytes(int64(200+i)), mustNullifier(t, int64(50+i), int64(70+i)))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := r.MarkVerified(commitment, models.ProofKindAge, [32]byte{}, [32]byte{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := r.MarkVerified(commitment, models.ProofKindNationality, [32]byte{}, [32]byte{})
	require.NoError(t, err)
	assert.Equal(t, field.FieldToBytes(r.Root()), rec.MerkleRoot,
		"record must carry the settled registry root")
}

func TestRevoke(t *testing.T) {
	r := newRegistry()
	commitment := commitmentBytes(100)
	_, err := r.Register("alice", commitment, mustNullifier(t, 1, 2))
	require.NoError(t, err)

	_, err = r.MarkVerified(commitment, models.ProofKindUniqueness, [32]byte{}, [32]byte{})
	require.NoError(t, err)

	rec, err := r.Revoke("alice")
	require.NoError(t, err)
	assert.Zero(t, rec.Attributes)
	assert.False(t, rec.Verified)
	assert.True(t, rec.VerifiedAt.IsZero())
}

func TestUpdateCommitment(t *testing.T) {
	r := newRegistry()
	oldCommitment := commitmentBytes(100)
	_, err := r.Register("alice", oldCommitment, mustNullifier(t, 1, 2))
	require.NoError(t, err)
	_, err = r.MarkVerified(oldCommitment, models.ProofKindAge, [32]byte{}, [32]byte{})
	require.NoError(t, err)

	newCommitment := commitmentBytes(200)
	rec, err := r.UpdateCommitment("alice", newCommitment, mustNullifier(t, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, newCommitment, rec.Commitment)
	assert.Zero(t, rec.Attributes, "commitment replacement resets verification state")

	_, err = r.GetByCommitment(oldCommitment)
	require.ErrorIs(t, err, identity.ErrNotFound)
	got, err := r.GetByCommitment(newCommitment)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
}

func TestInclusionProof(t *testing.T) {
	r := newRegistry()
	for i, owner := range []string{"alice", "bob", "carol"} {
		_, err := r.Register(owner, commitmentBytes(int64(100+i)), mustNullifier(t, int64(i), int64(i+10)))
		require.NoError(t, err)
	}

	siblings, pathBits, root, err := r.InclusionProof("bob")
	require.NoError(t, err)

	bobCommitment := commitmentBytes(101)
	leaf, err := field.BytesToField(bobCommitment[:])
	require.NoError(t, err)
	assert.True(t, merkle.VerifyInclusion(leaf, siblings, pathBits, root))
	assert.Zero(t, root.Cmp(r.Root()))
}
