// Package challenge implements the single-use challenge/response protocol: a
// relying party creates a challenge, a wallet responds with exactly one
// attribute proof, and the relying party verifies it exactly once. All state
// lives in an injected keyed store; the only mutating transitions are
// guarded per-challenge compare-and-swaps.
package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/zkidentity/attest/field"
	"github.com/zkidentity/attest/hasher"
	"github.com/zkidentity/attest/identity"
	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/nullifier"
	"github.com/zkidentity/attest/store"
	"github.com/zkidentity/attest/verifier"
)

var (
	// ErrNotFound: the challenge does not exist or was purged after expiry.
	ErrNotFound = errors.New("challenge: not found")

	// ErrNotPending: a response arrived for a challenge that already left
	// the pending state.
	ErrNotPending = errors.New("challenge: not pending")

	// ErrExpired: the challenge's TTL elapsed before the response.
	ErrExpired = errors.New("challenge: expired")

	// ErrIDMismatch: the response's embedded challenge id disagrees with the
	// addressed challenge.
	ErrIDMismatch = errors.New("challenge: id mismatch")

	// ErrMalformedResponse: required response fields are absent or
	// undecodable.
	ErrMalformedResponse = errors.New("challenge: malformed proof response")

	// ErrNotCompleted: verification was requested before a response was
	// accepted.
	ErrNotCompleted = errors.New("challenge: not completed")

	// ErrInvalidTTL: the requested TTL is outside the allowed range.
	ErrInvalidTTL = errors.New("challenge: ttl out of range")
)

// TTL bounds for newly created challenges.
const (
	MinTTL = 60 * time.Second
	MaxTTL = 3600 * time.Second

	// expiredRetention keeps expired challenges readable for status queries
	// before store eviction reclaims them.
	expiredRetention = 5 * time.Minute
)

// KeySet maps each proof kind to its verification key. Slots may be nil when
// a kind's circuit is not deployed.
type KeySet [models.NumProofKinds]*verifier.VerificationKey

// Protocol is the challenge state machine. All dependencies are injected;
// Protocol itself holds no global state.
type Protocol struct {
	challenges store.Store[models.Challenge]
	keys       KeySet
	identities *identity.Registry
	nullifiers *nullifier.Registry
	now        func() time.Time
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithNow replaces the protocol clock, for tests that step time.
func WithNow(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

// NewProtocol builds the protocol on the injected store, key set and
// registries.
func NewProtocol(
	challenges store.Store[models.Challenge],
	keys KeySet,
	identities *identity.Registry,
	nullifiers *nullifier.Registry,
	opts ...Option,
) *Protocol {
	p := &Protocol{
		challenges: challenges,
		keys:       keys,
		identities: identities,
		nullifiers: nullifiers,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create allocates a pending challenge with a fresh id and nonce. TTLs
// outside [MinTTL, MaxTTL] are rejected, not clamped.
func (p *Protocol) Create(appID string, kind models.ProofKind, params json.RawMessage, ttl time.Duration) (models.Challenge, error) {
	if !kind.Valid() {
		return models.Challenge{}, fmt.Errorf("challenge: invalid proof kind %d", uint8(kind))
	}
	if p.keys[kind] == nil {
		return models.Challenge{}, fmt.Errorf("challenge: no verification key loaded for %s", kind)
	}
	if ttl < MinTTL || ttl > MaxTTL {
		return models.Challenge{}, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidTTL, ttl, MinTTL, MaxTTL)
	}

	id, err := randomHex(16)
	if err != nil {
		return models.Challenge{}, err
	}
	nonce, err := randomHex(16)
	if err != nil {
		return models.Challenge{}, err
	}

	now := p.now().UTC()
	ch := models.Challenge{
		ID:        id,
		AppID:     appID,
		ProofType: kind,
		Params:    params,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    models.StatusPending,
	}

	// Store eviction lags nominal expiry so status reads can still observe
	// the expired state; respond/verify check ExpiresAt themselves.
	if !p.challenges.InsertIfAbsent(id, ch, ttl+expiredRetention) {
		return models.Challenge{}, fmt.Errorf("challenge: id collision on %s", id)
	}
	return ch, nil
}

// Respond submits a proof response. The pending→completed transition is a
// per-challenge compare-and-swap: of any number of concurrent responders,
// the first wins and the rest get ErrNotPending.
func (p *Protocol) Respond(challengeID string, resp models.ProofResponse) (models.Challenge, error) {
	now := p.now().UTC()

	var (
		updated models.Challenge
		lapsed  bool
	)
	err := p.challenges.Update(challengeID, func(ch models.Challenge) (models.Challenge, error) {
		if ch.Status != models.StatusPending {
			return ch, ErrNotPending
		}
		if now.After(ch.ExpiresAt) {
			// Transition to the terminal expired state even though the
			// response is rejected.
			ch.Status = models.StatusExpired
			lapsed = true
			updated = ch
			return ch, nil
		}
		if resp.ChallengeID != challengeID {
			return ch, fmt.Errorf("%w: response is for %q", ErrIDMismatch, resp.ChallengeID)
		}
		if err := validateResponse(&resp); err != nil {
			return ch, err
		}

		ch.Status = models.StatusCompleted
		ch.Response = &resp
		ch.CompletedAt = now
		updated = ch
		return ch, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.Challenge{}, ErrNotFound
	}
	if err != nil {
		return models.Challenge{}, err
	}
	if lapsed {
		return updated, ErrExpired
	}
	return updated, nil
}

// Verify checks the stored proof of a completed challenge against the proof
// kind's verification key. Only cryptographic acceptance updates the
// identity's attribute bitmap and, for uniqueness proofs, spends the proof
// nullifier. Repeat calls return the recorded outcome and perform no
// further side effects; a failed side effect records no outcome, so Verify
// can be retried once the failure is resolved.
func (p *Protocol) Verify(challengeID string) (models.VerificationResult, error) {
	ch, ok := p.challenges.Get(challengeID)
	if !ok {
		return models.VerificationResult{}, ErrNotFound
	}
	if ch.Status != models.StatusCompleted {
		return models.VerificationResult{}, fmt.Errorf("%w: status is %s", ErrNotCompleted, ch.Status)
	}

	now := p.now().UTC()
	result := models.VerificationResult{
		ChallengeID: challengeID,
		ProofType:   ch.ProofType,
		VerifiedAt:  now,
	}

	if ch.Verified {
		result.Valid = ch.VerifiedResult
		return result, nil
	}

	// The pairing check is pure; do it before taking the challenge lock.
	blob, proof, inputs, commitment, err := decodeResponse(ch.Response)
	if err != nil {
		return models.VerificationResult{}, err
	}
	valid, err := verifier.Verify(proof, inputs, p.keys[ch.ProofType])
	if err != nil {
		return models.VerificationResult{}, err
	}

	err = p.challenges.Update(challengeID, func(cur models.Challenge) (models.Challenge, error) {
		if cur.Status != models.StatusCompleted {
			return cur, fmt.Errorf("%w: status is %s", ErrNotCompleted, cur.Status)
		}
		if cur.Verified {
			// Lost the race to a concurrent verifier; keep its outcome.
			valid = cur.VerifiedResult
			return cur, nil
		}

		if valid {
			// A failed side effect aborts the update without recording an
			// outcome, so a later Verify can retry once the cause (an
			// unregistered identity, say) is resolved.
			if err := p.applyAcceptance(&cur, blob, inputs, commitment); err != nil {
				return cur, err
			}
		}
		cur.Verified = true
		cur.VerifiedResult = valid
		return cur, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.VerificationResult{}, ErrNotFound
	}
	if err != nil {
		return models.VerificationResult{}, err
	}

	result.Valid = valid
	return result, nil
}

// applyAcceptance performs the state updates owed to a cryptographically
// accepted proof: spend the uniqueness nullifier, OR the attribute bit and
// append the audit record.
func (p *Protocol) applyAcceptance(ch *models.Challenge, blob []byte, inputs []*big.Int, commitment [32]byte) error {
	// Resolve the identity before spending anything: the nullifier set is
	// append-only, so a proof for an unregistered commitment must fail
	// without burning its nullifier.
	if _, err := p.identities.GetByCommitment(commitment); err != nil {
		return err
	}

	if ch.ProofType == models.ProofKindUniqueness {
		if len(inputs) < 2 {
			return fmt.Errorf("%w: uniqueness proof carries no nullifier signal", ErrMalformedResponse)
		}
		if err := p.nullifiers.Register(field.FieldToBytes(inputs[1])); err != nil {
			return err
		}
	}

	proofHash, err := hasher.HashBytes(blob)
	if err != nil {
		return err
	}
	inputsHash, err := hasher.HashBytes(encodeInputs(inputs)...)
	if err != nil {
		return err
	}
	if _, err := p.identities.MarkVerified(commitment, ch.ProofType, proofHash, inputsHash); err != nil {
		return err
	}
	return nil
}

// Status returns the challenge's state, reporting expiry lazily: a pending
// challenge past its deadline reads as expired even before eviction. The
// read is side-effect free.
func (p *Protocol) Status(challengeID string) (models.ChallengeStatus, error) {
	ch, err := p.Get(challengeID)
	if err != nil {
		return "", err
	}
	return ch.Status, nil
}

// Get returns the challenge with lazily computed expiry.
func (p *Protocol) Get(challengeID string) (models.Challenge, error) {
	ch, ok := p.challenges.Get(challengeID)
	if !ok {
		return models.Challenge{}, ErrNotFound
	}
	if ch.Status == models.StatusPending && p.now().UTC().After(ch.ExpiresAt) {
		ch.Status = models.StatusExpired
	}
	return ch, nil
}

// validateResponse rejects responses missing required sub-fields before any
// state transition.
func validateResponse(resp *models.ProofResponse) error {
	if resp.Proof == "" {
		return fmt.Errorf("%w: missing proof", ErrMalformedResponse)
	}
	if resp.IdentityCommitment == "" {
		return fmt.Errorf("%w: missing identity commitment", ErrMalformedResponse)
	}
	if len(resp.PublicSignals) == 0 {
		return fmt.Errorf("%w: missing public signals", ErrMalformedResponse)
	}

	blob, err := base64.StdEncoding.DecodeString(resp.Proof)
	if err != nil {
		return fmt.Errorf("%w: proof is not base64: %v", ErrMalformedResponse, err)
	}
	if len(blob) != verifier.ProofSize {
		return fmt.Errorf("%w: proof blob is %d bytes, want %d", ErrMalformedResponse, len(blob), verifier.ProofSize)
	}

	commitment, err := hex.DecodeString(resp.IdentityCommitment)
	if err != nil || len(commitment) != 32 {
		return fmt.Errorf("%w: identity commitment is not 32 hex bytes", ErrMalformedResponse)
	}

	// The first public signal is the commitment by wire contract; a
	// mismatch means the proof is not about the claimed identity.
	first, err := field.FromString(resp.PublicSignals[0])
	if err != nil {
		return fmt.Errorf("%w: public signal 0: %v", ErrMalformedResponse, err)
	}
	var c [32]byte
	copy(c[:], commitment)
	commitmentEl, err := field.BytesToField(c[:])
	if err != nil {
		return fmt.Errorf("%w: identity commitment: %v", ErrMalformedResponse, err)
	}
	if first.Cmp(commitmentEl) != 0 {
		return fmt.Errorf("%w: public signal 0 does not match identity commitment", ErrMalformedResponse)
	}
	return nil
}

// decodeResponse re-decodes a validated response into verifier inputs.
// Cryptographic and format errors surface verbatim so callers can tell
// "prove again" from "permanently invalid".
func decodeResponse(resp *models.ProofResponse) (blob []byte, proof *verifier.Proof, inputs []*big.Int, commitment [32]byte, err error) {
	blob, err = base64.StdEncoding.DecodeString(resp.Proof)
	if err != nil {
		return nil, nil, nil, commitment, fmt.Errorf("%w: proof is not base64: %v", ErrMalformedResponse, err)
	}
	proof, err = verifier.UnmarshalProof(blob)
	if err != nil {
		return nil, nil, nil, commitment, err
	}

	inputs = make([]*big.Int, len(resp.PublicSignals))
	for i, s := range resp.PublicSignals {
		inputs[i], err = field.FromString(s)
		if err != nil {
			return nil, nil, nil, commitment, fmt.Errorf("challenge: public signal %d: %w", i, err)
		}
	}

	raw, err := hex.DecodeString(resp.IdentityCommitment)
	if err != nil || len(raw) != 32 {
		return nil, nil, nil, commitment, fmt.Errorf("%w: identity commitment is not 32 hex bytes", ErrMalformedResponse)
	}
	copy(commitment[:], raw)
	return blob, proof, inputs, commitment, nil
}

func encodeInputs(inputs []*big.Int) [][]byte {
	out := make([][]byte, len(inputs))
	for i, in := range inputs {
		enc := field.FieldToBytes(in)
		out[i] = enc[:]
	}
	return out
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge: generating randomness: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
