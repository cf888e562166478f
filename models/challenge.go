package models

import (
	"encoding/json"
	"time"
)

// ChallengeStatus is the finite-state field of a challenge. pending is the
// only non-terminal state.
type ChallengeStatus string

const (
	StatusPending   ChallengeStatus = "pending"
	StatusCompleted ChallengeStatus = "completed"
	StatusExpired   ChallengeStatus = "expired"
)

// Challenge is a short-lived, single-use request for one attribute proof,
// issued by a relying party and resolved by exactly one submission.
type Challenge struct {
	ID        string          `json:"challengeId"`
	AppID     string          `json:"appId"`
	ProofType ProofKind       `json:"proofType"`
	Params    json.RawMessage `json:"params,omitempty"`
	Nonce     string          `json:"nonce"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Status    ChallengeStatus `json:"status"`

	Response    *ProofResponse `json:"-"`
	CompletedAt time.Time      `json:"-"`

	// Verification outcome, recorded once so repeat verifies are
	// side-effect free.
	Verified       bool `json:"-"`
	VerifiedResult bool `json:"-"`
}

// ProofResponse is the respond request body: the proof blob with the public
// data needed to verify it.
type ProofResponse struct {
	ChallengeID        string   `json:"challengeId"`
	Proof              string   `json:"proof"`              // base64, 256-byte blob
	IdentityCommitment string   `json:"identityCommitment"` // hex, 32 bytes
	PublicSignals      []string `json:"publicSignals"`      // decimal field elements
}

// VerificationResult reports the outcome of verifying a completed challenge.
type VerificationResult struct {
	ChallengeID string    `json:"challengeId"`
	ProofType   ProofKind `json:"proofType"`
	Valid       bool      `json:"valid"`
	VerifiedAt  time.Time `json:"verifiedAt"`
}
