// Package identity keeps the on-ledger view of registered identities: one
// record per owner holding the commitment, the batch Merkle root, the
// attributes-verified bitmap and the compressed state hash. Records are
// mutated only through registration, successful proof verification, explicit
// commitment updates and explicit revocation.
package identity

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/zkidentity/attest/field"
	"github.com/zkidentity/attest/hasher"
	"github.com/zkidentity/attest/merkle"
	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/nullifier"
)

var (
	// ErrAlreadyRegistered is returned when the owner or the commitment is
	// already bound to a record.
	ErrAlreadyRegistered = errors.New("identity: already registered")

	// ErrNotFound is returned for unknown owners or commitments.
	ErrNotFound = errors.New("identity: not found")
)

// Record is the per-owner identity state. The Attributes bitmap uses
// models.ProofKind.Bit positions (1 = age, 2 = nationality, 4 = uniqueness)
// and is only ever OR-updated by verification; Revoke is the single clearing
// path.
type Record struct {
	Owner      string    `json:"owner"`
	Commitment [32]byte  `json:"-"`
	MerkleRoot [32]byte  `json:"-"`
	StateHash  [32]byte  `json:"-"`
	LeafIndex  int       `json:"leafIndex"`
	Verified   bool      `json:"verified"`
	Attributes uint8     `json:"attributesVerified"`
	VerifiedAt time.Time `json:"verificationTimestamp"`
}

// Audit is one entry of the verification audit trail, appended on every
// successful proof verification.
type Audit struct {
	Owner            string           `json:"owner"`
	ProofHash        [32]byte         `json:"-"`
	PublicInputsHash [32]byte         `json:"-"`
	Kind             models.ProofKind `json:"proofType"`
	Timestamp        time.Time        `json:"timestamp"`
}

type entry struct {
	mu     sync.Mutex // guards rec and audits for this identity
	rec    Record
	audits []Audit
}

// Registry is the in-memory identity registry. Structural state (the owner
// and commitment indexes, the commitment tree) is guarded by a registry
// lock; each record carries its own lock so registration and bitmap updates
// for one identity serialize without blocking others.
type Registry struct {
	mu           sync.RWMutex
	byOwner      map[string]*entry
	byCommitment map[[32]byte]string
	tree         *merkle.Tree
	nullifiers   *nullifier.Registry
	total        uint64
}

// NewRegistry builds a registry that consumes registration nullifiers from
// the given set.
func NewRegistry(nullifiers *nullifier.Registry) *Registry {
	return &Registry{
		byOwner:      make(map[string]*entry),
		byCommitment: make(map[[32]byte]string),
		tree:         merkle.NewTree(),
		nullifiers:   nullifiers,
	}
}

// Register creates the record for owner, spending the registration nullifier
// and appending the commitment to the batch tree. Duplicate owners and
// commitments fail with ErrAlreadyRegistered; a spent nullifier fails with
// nullifier.ErrReuse and registers nothing.
func (r *Registry) Register(owner string, commitment [32]byte, regNullifier [32]byte) (Record, error) {
	leaf, err := field.BytesToField(commitment[:])
	if err != nil {
		return Record{}, fmt.Errorf("identity: commitment: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOwner[owner]; ok {
		return Record{}, fmt.Errorf("%w: owner %s", ErrAlreadyRegistered, owner)
	}
	if prev, ok := r.byCommitment[commitment]; ok {
		return Record{}, fmt.Errorf("%w: commitment already owned by %s", ErrAlreadyRegistered, prev)
	}

	// The nullifier is spent last so a rejected registration never burns it.
	if err := r.nullifiers.Register(regNullifier); err != nil {
		return Record{}, err
	}

	index, root, err := r.tree.Append(leaf)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Owner:      owner,
		Commitment: commitment,
		MerkleRoot: field.FieldToBytes(root),
		LeafIndex:  index,
	}
	rec.StateHash, err = merkle.CompressIdentity(ownerID(owner), commitment, rec.MerkleRoot)
	if err != nil {
		return Record{}, err
	}

	r.byOwner[owner] = &entry{rec: rec}
	r.byCommitment[commitment] = owner
	r.total++
	return rec, nil
}

// Get returns the record for owner.
func (r *Registry) Get(owner string) (Record, error) {
	e, err := r.lookup(owner)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// GetByCommitment returns the record owning the commitment.
func (r *Registry) GetByCommitment(commitment [32]byte) (Record, error) {
	r.mu.RLock()
	owner, ok := r.byCommitment[commitment]
	r.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: commitment", ErrNotFound)
	}
	return r.Get(owner)
}

// MarkVerified ORs the attribute bit for kind into the record owning the
// commitment, refreshes the state hash and appends an audit entry. The
// bitmap update is idempotent; the audit entry is appended on every call, so
// callers decide when a verification counts (the challenge protocol invokes
// this exactly once per challenge).
func (r *Registry) MarkVerified(commitment [32]byte, kind models.ProofKind, proofHash, publicInputsHash [32]byte) (Record, error) {
	// The registry read lock is held for the whole update: tree mutation
	// needs the write lock, so the root snapshot stays current until the
	// record carries it.
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.byCommitment[commitment]
	if !ok {
		return Record{}, fmt.Errorf("%w: commitment", ErrNotFound)
	}
	e := r.byOwner[owner]
	root := r.tree.Root()

	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Attributes |= kind.Bit()
	e.rec.Verified = true
	e.rec.VerifiedAt = now
	e.rec.MerkleRoot = field.FieldToBytes(root)

	state, err := merkle.CompressIdentity(ownerID(owner), e.rec.Commitment, e.rec.MerkleRoot)
	if err != nil {
		return Record{}, err
	}
	e.rec.StateHash = state
	e.audits = append(e.audits, Audit{
		Owner:            owner,
		ProofHash:        proofHash,
		PublicInputsHash: publicInputsHash,
		Kind:             kind,
		Timestamp:        now,
	})
	return e.rec, nil
}

// Revoke clears the verification state of owner's record. This is the only
// path that clears attribute bits.
func (r *Registry) Revoke(owner string) (Record, error) {
	e, err := r.lookup(owner)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Attributes = 0
	e.rec.Verified = false
	e.rec.VerifiedAt = time.Time{}

	state, err := merkle.CompressIdentity(ownerID(owner), e.rec.Commitment, e.rec.MerkleRoot)
	if err != nil {
		return Record{}, err
	}
	e.rec.StateHash = state
	return e.rec, nil
}

// UpdateCommitment replaces owner's commitment with a fresh one, spending a
// new registration nullifier and resetting the verification state: proofs
// bound to the old commitment no longer apply.
func (r *Registry) UpdateCommitment(owner string, commitment [32]byte, regNullifier [32]byte) (Record, error) {
	leaf, err := field.BytesToField(commitment[:])
	if err != nil {
		return Record{}, fmt.Errorf("identity: commitment: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byOwner[owner]
	if !ok {
		return Record{}, fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	if prev, taken := r.byCommitment[commitment]; taken {
		return Record{}, fmt.Errorf("%w: commitment already owned by %s", ErrAlreadyRegistered, prev)
	}
	if err := r.nullifiers.Register(regNullifier); err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := r.tree.Update(e.rec.LeafIndex, leaf)
	if err != nil {
		return Record{}, err
	}

	delete(r.byCommitment, e.rec.Commitment)
	r.byCommitment[commitment] = owner

	e.rec.Commitment = commitment
	e.rec.MerkleRoot = field.FieldToBytes(root)
	e.rec.Attributes = 0
	e.rec.Verified = false
	e.rec.VerifiedAt = time.Time{}

	state, err := merkle.CompressIdentity(ownerID(owner), commitment, e.rec.MerkleRoot)
	if err != nil {
		return Record{}, err
	}
	e.rec.StateHash = state
	return e.rec, nil
}

// InclusionProof returns a Merkle inclusion proof for owner's commitment
// against the current batch root.
func (r *Registry) InclusionProof(owner string) (siblings []*big.Int, pathBits []bool, root *big.Int, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byOwner[owner]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	siblings, pathBits, err = r.tree.Proof(e.rec.LeafIndex)
	if err != nil {
		return nil, nil, nil, err
	}
	return siblings, pathBits, r.tree.Root(), nil
}

// Root returns the current commitment batch root.
func (r *Registry) Root() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Root()
}

// Total returns the number of registered identities.
func (r *Registry) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Audits returns the verification audit trail for owner, oldest first.
func (r *Registry) Audits(owner string) ([]Audit, error) {
	e, err := r.lookup(owner)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Audit, len(e.audits))
	copy(out, e.audits)
	return out, nil
}

func (r *Registry) lookup(owner string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byOwner[owner]
	if !ok {
		return nil, fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	return e, nil
}

// ownerID maps an owner identifier of any length onto a field-safe 32-byte
// value for state compression.
func ownerID(owner string) [32]byte {
	id, err := hasher.HashBytes([]byte(owner))
	if err != nil {
		// hasher.HashBytes only fails on internal Poseidon errors, which are
		// unreachable for 2-arity folds.
		panic(err)
	}
	return id
}
