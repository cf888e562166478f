package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zkidentity/attest/challenge"
	"github.com/zkidentity/attest/field"
	"github.com/zkidentity/attest/identity"
	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/nullifier"
	"github.com/zkidentity/attest/verifier"
)

// Server handles HTTP requests for the identity verification protocol
type Server struct {
	proto      *challenge.Protocol
	identities *identity.Registry
	keys       challenge.KeySet
}

// NewServer creates a new HTTP server
func NewServer(proto *challenge.Protocol, identities *identity.Registry, keys challenge.KeySet) *Server {
	return &Server{
		proto:      proto,
		identities: identities,
		keys:       keys,
	}
}

// ==== Request/Response Types ====

// RegisterIdentityRequest registers a credential commitment for an owner
type RegisterIdentityRequest struct {
	Owner              string `json:"owner"`
	IdentityCommitment string `json:"identityCommitment"` // hex, 32 bytes
	Nullifier          string `json:"nullifier"`          // hex, 32 bytes
}

// IdentityResponse is the wire form of an identity record
type IdentityResponse struct {
	Owner              string    `json:"owner"`
	IdentityCommitment string    `json:"identityCommitment"`
	MerkleRoot         string    `json:"merkleRoot"`
	StateHash          string    `json:"stateHash"`
	LeafIndex          int       `json:"leafIndex"`
	Verified           bool      `json:"verified"`
	AttributesVerified uint8     `json:"attributesVerified"`
	VerifiedAt         time.Time `json:"verificationTimestamp,omitzero"`
}

// InclusionProofResponse carries a Merkle inclusion proof for a commitment
type InclusionProofResponse struct {
	Owner    string   `json:"owner"`
	Root     string   `json:"root"`
	Siblings []string `json:"siblings"`
	PathBits []bool   `json:"pathBits"`
}

// AuditResponse is one verification audit record
type AuditResponse struct {
	Owner            string           `json:"owner"`
	ProofType        models.ProofKind `json:"proofType"`
	ProofHash        string           `json:"proofHash"`
	PublicInputsHash string           `json:"publicInputsHash"`
	Timestamp        time.Time        `json:"timestamp"`
}

// RegistryStatsResponse summarizes the identity registry
type RegistryStatsResponse struct {
	TotalIdentities uint64 `json:"totalIdentities"`
	MerkleRoot      string `json:"merkleRoot"`
}

// CreateChallengeRequest is the relying party's challenge request
type CreateChallengeRequest struct {
	AppID      string           `json:"appId"`
	ProofType  models.ProofKind `json:"proofType"`
	Params     json.RawMessage  `json:"params,omitempty"`
	TTLSeconds int              `json:"ttlSeconds"`
}

// KeyInfoResponse describes one proof kind's verification key
type KeyInfoResponse struct {
	ProofType    models.ProofKind `json:"proofType"`
	Loaded       bool             `json:"loaded"`
	PublicInputs int              `json:"publicInputs,omitempty"`
}

// KeyListResponse lists the verification keys
type KeyListResponse struct {
	Keys  []KeyInfoResponse `json:"keys"`
	Count int               `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ==== Handlers ====

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// HandleListKeys lists the verification keys per proof kind
func (s *Server) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys := make([]KeyInfoResponse, 0, models.NumProofKinds)
	for kind := models.ProofKind(0); kind < models.NumProofKinds; kind++ {
		info := KeyInfoResponse{ProofType: kind, Loaded: s.keys[kind] != nil}
		if info.Loaded {
			info.PublicInputs = s.keys[kind].NumPublicInputs()
		}
		keys = append(keys, info)
	}
	respondJSON(w, http.StatusOK, KeyListResponse{Keys: keys, Count: len(keys)})
}

// HandleRegistryStats returns the registry totals and the current batch root
func (s *Server) HandleRegistryStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RegistryStatsResponse{
		TotalIdentities: s.identities.Total(),
		MerkleRoot:      s.identities.Root().String(),
	})
}

// HandleRegisterIdentity registers a new identity commitment
func (s *Server) HandleRegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req RegisterIdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Owner == "" {
		respondError(w, http.StatusBadRequest, "missing_input", "owner is required")
		return
	}

	commitment, ok := decodeHash(w, req.IdentityCommitment, "identityCommitment")
	if !ok {
		return
	}
	regNullifier, ok := decodeHash(w, req.Nullifier, "nullifier")
	if !ok {
		return
	}

	rec, err := s.identities.Register(req.Owner, commitment, regNullifier)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, identityResponse(rec))
}

// HandleGetIdentity returns the identity record for an owner
func (s *Server) HandleGetIdentity(w http.ResponseWriter, r *http.Request) {
	rec, err := s.identities.Get(chi.URLParam(r, "owner"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(rec))
}

// HandleIdentityProof returns the Merkle inclusion proof for an owner's
// commitment against the current batch root
func (s *Server) HandleIdentityProof(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	siblings, pathBits, root, err := s.identities.InclusionProof(owner)
	if err != nil {
		respondCoreError(w, err)
		return
	}

	resp := InclusionProofResponse{
		Owner:    owner,
		Root:     root.String(),
		Siblings: make([]string, len(siblings)),
		PathBits: pathBits,
	}
	for i, sibling := range siblings {
		resp.Siblings[i] = sibling.String()
	}
	if resp.PathBits == nil {
		resp.PathBits = []bool{}
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleIdentityAudits returns the verification audit trail for an owner
func (s *Server) HandleIdentityAudits(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	audits, err := s.identities.Audits(owner)
	if err != nil {
		respondCoreError(w, err)
		return
	}

	out := make([]AuditResponse, len(audits))
	for i, a := range audits {
		out[i] = AuditResponse{
			Owner:            a.Owner,
			ProofType:        a.Kind,
			ProofHash:        hex.EncodeToString(a.ProofHash[:]),
			PublicInputsHash: hex.EncodeToString(a.PublicInputsHash[:]),
			Timestamp:        a.Timestamp,
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleRevokeIdentity clears an identity's verification state
func (s *Server) HandleRevokeIdentity(w http.ResponseWriter, r *http.Request) {
	rec, err := s.identities.Revoke(chi.URLParam(r, "owner"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(rec))
}

// HandleCreateChallenge creates a pending proof challenge
func (s *Server) HandleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req CreateChallengeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AppID == "" {
		respondError(w, http.StatusBadRequest, "missing_input", "appId is required")
		return
	}

	ch, err := s.proto.Create(req.AppID, req.ProofType, req.Params, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ch)
}

// HandleGetChallenge returns the challenge with its lazily computed status
func (s *Server) HandleGetChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := s.proto.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ch)
}

// HandleRespondChallenge submits a proof response to a pending challenge
func (s *Server) HandleRespondChallenge(w http.ResponseWriter, r *http.Request) {
	var resp models.ProofResponse
	if !decodeBody(w, r, &resp) {
		return
	}

	ch, err := s.proto.Respond(chi.URLParam(r, "id"), resp)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ch)
}

// HandleVerifyChallenge verifies the proof of a completed challenge
func (s *Server) HandleVerifyChallenge(w http.ResponseWriter, r *http.Request) {
	result, err := s.proto.Verify(chi.URLParam(r, "id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ==== Helper Functions ====

func identityResponse(rec identity.Record) IdentityResponse {
	return IdentityResponse{
		Owner:              rec.Owner,
		IdentityCommitment: hex.EncodeToString(rec.Commitment[:]),
		MerkleRoot:         hex.EncodeToString(rec.MerkleRoot[:]),
		StateHash:          hex.EncodeToString(rec.StateHash[:]),
		LeafIndex:          rec.LeafIndex,
		Verified:           rec.Verified,
		AttributesVerified: rec.Attributes,
		VerifiedAt:         rec.VerifiedAt,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json",
			fmt.Sprintf("failed to parse request: %v", err))
		return false
	}
	return true
}

func decodeHash(w http.ResponseWriter, s, name string) ([32]byte, bool) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		respondError(w, http.StatusBadRequest, "invalid_input",
			fmt.Sprintf("%s must be 32 hex-encoded bytes", name))
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

// respondCoreError maps typed core errors onto stable HTTP codes so callers
// can distinguish "prove again" from "permanently invalid".
func respondCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, challenge.ErrNotFound):
		respondError(w, http.StatusNotFound, "challenge_not_found", err.Error())
	case errors.Is(err, challenge.ErrNotPending):
		respondError(w, http.StatusConflict, "challenge_not_pending", err.Error())
	case errors.Is(err, challenge.ErrExpired):
		respondError(w, http.StatusGone, "challenge_expired", err.Error())
	case errors.Is(err, challenge.ErrIDMismatch):
		respondError(w, http.StatusBadRequest, "challenge_id_mismatch", err.Error())
	case errors.Is(err, challenge.ErrMalformedResponse):
		respondError(w, http.StatusBadRequest, "malformed_proof_response", err.Error())
	case errors.Is(err, challenge.ErrNotCompleted):
		respondError(w, http.StatusConflict, "challenge_not_completed", err.Error())
	case errors.Is(err, challenge.ErrInvalidTTL):
		respondError(w, http.StatusBadRequest, "invalid_ttl", err.Error())
	case errors.Is(err, nullifier.ErrReuse):
		respondError(w, http.StatusConflict, "nullifier_reuse", err.Error())
	case errors.Is(err, identity.ErrAlreadyRegistered):
		respondError(w, http.StatusConflict, "identity_already_registered", err.Error())
	case errors.Is(err, identity.ErrNotFound):
		respondError(w, http.StatusNotFound, "identity_not_found", err.Error())
	case errors.Is(err, verifier.ErrInvalidProofEncoding):
		respondError(w, http.StatusBadRequest, "invalid_proof_encoding", err.Error())
	case errors.Is(err, verifier.ErrInvalidPublicInputCount):
		respondError(w, http.StatusBadRequest, "invalid_public_input_count", err.Error())
	case errors.Is(err, field.ErrOverflow):
		respondError(w, http.StatusBadRequest, "field_overflow", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	})
}
