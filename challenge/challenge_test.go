package challenge_test

import (
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkidentity/attest/challenge"
	"github.com/zkidentity/attest/devproof"
	"github.com/zkidentity/attest/field"
	"github.com/zkidentity/attest/identity"
	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/nullifier"
	"github.com/zkidentity/attest/store"
)

// fakeClock lets tests step past challenge deadlines without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	proto      *challenge.Protocol
	identities *identity.Registry
	nullifiers *nullifier.Registry
	clock      *fakeClock

	secret       *big.Int
	credentialID *big.Int
	commitment   [32]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	vk, err := devproof.VerificationKey()
	require.NoError(t, err)

	var keys challenge.KeySet
	for i := range keys {
		keys[i] = vk
	}

	nullifiers := nullifier.NewRegistry(store.NewMemory[struct{}]())
	identities := identity.NewRegistry(nullifiers)
	clock := newFakeClock()
	proto := challenge.NewProtocol(
		store.NewMemory[models.Challenge](),
		keys,
		identities,
		nullifiers,
		challenge.WithNow(clock.Now),
	)

	f := &fixture{
		proto:        proto,
		identities:   identities,
		nullifiers:   nullifiers,
		clock:        clock,
		secret:       big.NewInt(7777),
		credentialID: big.NewInt(8888),
	}
	f.commitment = field.FieldToBytes(devproof.Commitment(f.secret, f.credentialID))

	regNullifier, err := nullifier.Derive(f.secret, f.credentialID)
	require.NoError(t, err)
	_, err = identities.Register("alice", f.commitment, regNullifier)
	require.NoError(t, err)
	return f
}

// response builds a genuine proof response for the challenge, with param as
// the second public signal.
func (f *fixture) response(t *testing.T, challengeID string, param *big.Int) models.ProofResponse {
	t.Helper()

	proof, publics, err := devproof.Prove(f.secret, f.credentialID, param)
	require.NoError(t, err)

	signals := make([]string, len(publics))
	for i, p := range publics {
		signals[i] = p.String()
	}
	return models.ProofResponse{
		ChallengeID:        challengeID,
		Proof:              base64.StdEncoding.EncodeToString(proof.Marshal()),
		IdentityCommitment: hex.EncodeToString(f.commitment[:]),
		PublicSignals:      signals,
	}
}

func TestCreateValidatesTTL(t *testing.T) {
	f := newFixture(t)

	_, err := f.proto.Create("app-1", models.ProofKindAge, nil, time.Second)
	require.ErrorIs(t, err, challenge.ErrInvalidTTL)

	_, err = f.proto.Create("app-1", models.ProofKindAge, nil, 2*time.Hour)
	require.ErrorIs(t, err, challenge.ErrInvalidTTL)

	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, ch.Status)
	assert.NotEmpty(t, ch.ID)
	assert.NotEmpty(t, ch.Nonce)
	assert.Equal(t, ch.CreatedAt.Add(challenge.MinTTL), ch.ExpiresAt)
}

func TestRespondUnknownChallenge(t *testing.T) {
	f := newFixture(t)
	_, err := f.proto.Respond("missing", models.ProofResponse{ChallengeID: "missing"})
	require.ErrorIs(t, err, challenge.ErrNotFound)
}

func TestRespondExpired(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	f.clock.Advance(challenge.MinTTL + time.Second)

	_, err = f.proto.Respond(ch.ID, f.response(t, ch.ID, big.NewInt(18)))
	require.ErrorIs(t, err, challenge.ErrExpired)

	// Expiry is terminal.
	status, err := f.proto.Status(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, status)
	_, err = f.proto.Respond(ch.ID, f.response(t, ch.ID, big.NewInt(18)))
	require.ErrorIs(t, err, challenge.ErrNotPending)
}

func TestStatusLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	status, err := f.proto.Status(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status)

	f.clock.Advance(2 * challenge.MinTTL)
	status, err = f.proto.Status(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, status, "status reads compute expiry lazily")
}

func TestRespondIDMismatch(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	resp := f.response(t, "some-other-id", big.NewInt(18))
	_, err = f.proto.Respond(ch.ID, resp)
	require.ErrorIs(t, err, challenge.ErrIDMismatch)
}

func TestRespondMalformed(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	cases := map[string]func(*models.ProofResponse){
		"missing proof":      func(r *models.ProofResponse) { r.Proof = "" },
		"missing commitment": func(r *models.ProofResponse) { r.IdentityCommitment = "" },
		"missing signals":    func(r *models.ProofResponse) { r.PublicSignals = nil },
		"bad base64":         func(r *models.ProofResponse) { r.Proof = "!!!" },
		"short blob":         func(r *models.ProofResponse) { r.Proof = base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) },
		"commitment mismatch": func(r *models.ProofResponse) {
			r.PublicSignals = append([]string{"12345"}, r.PublicSignals[1:]...)
		},
	}
	for name, mutate := range cases {
		resp := f.response(t, ch.ID, big.NewInt(18))
		mutate(&resp)
		_, err := f.proto.Respond(ch.ID, resp)
		assert.ErrorIs(t, err, challenge.ErrMalformedResponse, name)
	}

	// The challenge survives malformed attempts.
	status, err := f.proto.Status(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status)
}

func TestRespondSingleUse(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	resp := f.response(t, ch.ID, big.NewInt(18))
	updated, err := f.proto.Respond(ch.ID, resp)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	_, err = f.proto.Respond(ch.ID, resp)
	require.ErrorIs(t, err, challenge.ErrNotPending)
}

func TestVerifyAcceptsGenuineProof(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	_, err = f.proto.Verify(ch.ID)
	require.ErrorIs(t, err, challenge.ErrNotCompleted)

	_, err = f.proto.Respond(ch.ID, f.response(t, ch.ID, big.NewInt(18)))
	require.NoError(t, err)

	result, err := f.proto.Verify(ch.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	rec, err := f.identities.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProofKindAge.Bit(), rec.Attributes)
	assert.True(t, rec.Verified)
}

func TestVerifyIdempotent(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)
	_, err = f.proto.Respond(ch.ID, f.response(t, ch.ID, big.NewInt(18)))
	require.NoError(t, err)

	first, err := f.proto.Verify(ch.ID)
	require.NoError(t, err)
	rec, err := f.identities.Get("alice")
	require.NoError(t, err)
	bitmap := rec.Attributes

	second, err := f.proto.Verify(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Valid, second.Valid)

	rec, err = f.identities.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, bitmap, rec.Attributes, "repeat verify must not touch the bitmap")

	audits, err := f.identities.Audits("alice")
	require.NoError(t, err)
	assert.Len(t, audits, 1, "repeat verify must not append audit records")
}

func TestVerifyRejectsTamperedSignals(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	resp := f.response(t, ch.ID, big.NewInt(18))
	// Tamper with the second public signal; the blob still decodes, so this
	// must surface as a rejection, not an error.
	resp.PublicSignals[1] = "21"
	_, err = f.proto.Respond(ch.ID, resp)
	require.NoError(t, err)

	result, err := f.proto.Verify(ch.ID)
	require.NoError(t, err)
	assert.False(t, result.Valid)

	rec, err := f.identities.Get("alice")
	require.NoError(t, err)
	assert.Zero(t, rec.Attributes, "rejected proof must not set attribute bits")
}

func TestVerifyUniquenessSpendsNullifier(t *testing.T) {
	f := newFixture(t)

	proofNullifier, err := nullifier.Derive(f.secret, big.NewInt(424242))
	require.NoError(t, err)
	param, err := field.BytesToField(proofNullifier[:])
	require.NoError(t, err)

	ch, err := f.proto.Create("app-1", models.ProofKindUniqueness, nil, challenge.MinTTL)
	require.NoError(t, err)
	_, err = f.proto.Respond(ch.ID, f.response(t, ch.ID, param))
	require.NoError(t, err)

	result, err := f.proto.Verify(ch.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, f.nullifiers.Contains(proofNullifier))

	// A second uniqueness challenge reusing the same nullifier is a Sybil
	// attempt and must surface as such.
	ch2, err := f.proto.Create("app-2", models.ProofKindUniqueness, nil, challenge.MinTTL)
	require.NoError(t, err)
	_, err = f.proto.Respond(ch2.ID, f.response(t, ch2.ID, param))
	require.NoError(t, err)

	_, err = f.proto.Verify(ch2.ID)
	require.ErrorIs(t, err, nullifier.ErrReuse)
}

func TestVerifyUnregisteredIdentityKeepsNullifier(t *testing.T) {
	f := newFixture(t)

	bobSecret, bobCredentialID := big.NewInt(1111), big.NewInt(2222)
	bobCommitment := field.FieldToBytes(devproof.Commitment(bobSecret, bobCredentialID))

	proofNullifier, err := nullifier.Derive(bobSecret, big.NewInt(515151))
	require.NoError(t, err)
	param, err := field.BytesToField(proofNullifier[:])
	require.NoError(t, err)

	ch, err := f.proto.Create("app-1", models.ProofKindUniqueness, nil, challenge.MinTTL)
	require.NoError(t, err)

	proof, publics, err := devproof.Prove(bobSecret, bobCredentialID, param)
	require.NoError(t, err)
	signals := make([]string, len(publics))
	for i, p := range publics {
		signals[i] = p.String()
	}
	_, err = f.proto.Respond(ch.ID, models.ProofResponse{
		ChallengeID:        ch.ID,
		Proof:              base64.StdEncoding.EncodeToString(proof.Marshal()),
		IdentityCommitment: hex.EncodeToString(bobCommitment[:]),
		PublicSignals:      signals,
	})
	require.NoError(t, err)

	// The commitment is not registered, so verification fails, and the
	// failure must leave the nullifier unspent and the outcome unrecorded.
	_, err = f.proto.Verify(ch.ID)
	require.ErrorIs(t, err, identity.ErrNotFound)
	assert.False(t, f.nullifiers.Contains(proofNullifier),
		"failed verification must not spend the nullifier")

	regNullifier, err := nullifier.Derive(bobSecret, bobCredentialID)
	require.NoError(t, err)
	_, err = f.identities.Register("bob", bobCommitment, regNullifier)
	require.NoError(t, err)

	// With the identity registered, a retry accepts the same proof.
	result, err := f.proto.Verify(ch.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, f.nullifiers.Contains(proofNullifier))

	rec, err := f.identities.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, models.ProofKindUniqueness.Bit(), rec.Attributes)
}

func TestRespondConcurrentFirstWriterWins(t *testing.T) {
	f := newFixture(t)
	ch, err := f.proto.Create("app-1", models.ProofKindAge, nil, challenge.MinTTL)
	require.NoError(t, err)

	resp := f.response(t, ch.ID, big.NewInt(18))

	const responders = 8
	errs := make(chan error, responders)
	var wg sync.WaitGroup
	for i := 0; i < responders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.proto.Respond(ch.ID, resp)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, challenge.ErrNotPending)
		}
	}
	assert.Equal(t, 1, accepted, "a challenge is completed at most once")
}
