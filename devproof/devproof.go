// Package devproof holds a small reference circuit and a development-only
// trusted setup. It exists so tests and the keys CLI can produce genuine
// Groth16 proofs end to end; production verification keys come from the
// external circuit compiler instead.
package devproof

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	native_mimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/zkidentity/attest/verifier"
)

// attributeCircuit proves knowledge of the secret behind a public commitment
// while binding the proof to a public attribute parameter (a threshold, a
// country code, a challenge nonce). Public inputs, in order: Commitment,
// Param.
type attributeCircuit struct {
	Secret       frontend.Variable `gnark:",secret"`
	CredentialID frontend.Variable `gnark:",secret"`

	Commitment frontend.Variable `gnark:",public"`
	Param      frontend.Variable `gnark:",public"`
}

func (c *attributeCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Secret)
	h.Write(c.CredentialID)
	api.AssertIsEqual(c.Commitment, h.Sum())

	// Bind Param into the constraint system so it cannot be swapped after
	// proving.
	api.AssertIsDifferent(api.Add(c.Param, 1), c.Param)
	return nil
}

var (
	setupOnce sync.Once
	setupErr  error
	ccs       constraint.ConstraintSystem
	pk        groth16.ProvingKey
	vk        groth16.VerifyingKey
)

func setup() error {
	setupOnce.Do(func() {
		var circuit attributeCircuit
		ccs, setupErr = frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
		if setupErr != nil {
			setupErr = fmt.Errorf("devproof: compiling circuit: %w", setupErr)
			return
		}
		pk, vk, setupErr = groth16.Setup(ccs)
		if setupErr != nil {
			setupErr = fmt.Errorf("devproof: trusted setup: %w", setupErr)
		}
	})
	return setupErr
}

// Commitment computes the commitment the reference circuit expects for the
// given secret and credential id.
func Commitment(secret, credentialID *big.Int) *big.Int {
	h := native_mimc.NewMiMC()
	var e fr.Element
	e.SetBigInt(secret)
	b := e.Bytes()
	h.Write(b[:])
	e.SetBigInt(credentialID)
	b = e.Bytes()
	h.Write(b[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// VerificationKey returns the development verification key in the verifier's
// wire representation.
func VerificationKey() (*verifier.VerificationKey, error) {
	if err := setup(); err != nil {
		return nil, err
	}
	bvk, ok := vk.(*groth16_bn254.VerifyingKey)
	if !ok {
		return nil, fmt.Errorf("devproof: unexpected verifying key type %T", vk)
	}
	return &verifier.VerificationKey{
		Alpha: bvk.G1.Alpha,
		Beta:  bvk.G2.Beta,
		Gamma: bvk.G2.Gamma,
		Delta: bvk.G2.Delta,
		IC:    append([]bn254.G1Affine(nil), bvk.G1.K...),
	}, nil
}

// Prove produces a genuine proof for (secret, credentialID, param) and
// returns it with its public input vector [commitment, param].
func Prove(secret, credentialID, param *big.Int) (*verifier.Proof, []*big.Int, error) {
	if err := setup(); err != nil {
		return nil, nil, err
	}

	commitment := Commitment(secret, credentialID)
	assignment := &attributeCircuit{
		Secret:       secret,
		CredentialID: credentialID,
		Commitment:   commitment,
		Param:        param,
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("devproof: building witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, nil, fmt.Errorf("devproof: proving: %w", err)
	}
	bproof, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, nil, fmt.Errorf("devproof: unexpected proof type %T", proof)
	}

	return &verifier.Proof{
		A: bproof.Ar,
		B: bproof.Bs,
		C: bproof.Krs,
	}, []*big.Int{commitment, new(big.Int).Set(param)}, nil
}
