// Package verifier checks Groth16 proofs over BN254 against a fixed
// verification key and a vector of public inputs. Verification is a pure
// function of its inputs and safe to call from any number of goroutines.
package verifier

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkidentity/attest/field"
)

var (
	// ErrInvalidProofEncoding is returned for proof bytes that do not decode
	// to on-curve points in the correct subgroups.
	ErrInvalidProofEncoding = errors.New("verifier: invalid proof encoding")

	// ErrInvalidPublicInputCount is returned when the public input vector
	// does not match the verification key's IC length.
	ErrInvalidPublicInputCount = errors.New("verifier: public input count does not match key")

	// ErrInvalidKeyEncoding is returned for malformed verification key bytes.
	ErrInvalidKeyEncoding = errors.New("verifier: invalid key encoding")
)

// Proof is the constant-size Groth16 proof tuple (A, C in G1, B in G2).
// Proofs are immutable once decoded.
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// VerificationKey holds the per-circuit constants of the pairing check. IC
// has one more point than the circuit's public input count. Keys are loaded
// once at startup and never mutated.
type VerificationKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    []bn254.G1Affine
}

// NumPublicInputs returns the public input count the key was compiled for.
func (vk *VerificationKey) NumPublicInputs() int {
	return len(vk.IC) - 1
}

// Verify checks the Groth16 pairing equation
//
//	e(A, B) = e(alpha, beta) · e(vk_x, gamma) · e(C, delta)
//
// with vk_x = IC[0] + Σ publicInputs[i]·IC[i+1], as a single multi-pairing.
// A structurally valid but cryptographically invalid proof yields
// (false, nil); malformed inputs yield an error.
func Verify(proof *Proof, publicInputs []*big.Int, vk *VerificationKey) (bool, error) {
	if len(vk.IC) == 0 {
		return false, fmt.Errorf("%w: empty IC", ErrInvalidKeyEncoding)
	}
	if len(publicInputs) != vk.NumPublicInputs() {
		return false, fmt.Errorf("%w: got %d inputs, key expects %d",
			ErrInvalidPublicInputCount, len(publicInputs), vk.NumPublicInputs())
	}
	if err := proof.validate(); err != nil {
		return false, err
	}

	scalars := make([]fr.Element, len(publicInputs))
	for i, input := range publicInputs {
		if input.Sign() < 0 || input.Cmp(fr.Modulus()) >= 0 {
			return false, fmt.Errorf("%w: public input %d out of range", field.ErrOverflow, i)
		}
		scalars[i].SetBigInt(input)
	}

	// vk_x = IC[0] + Σ input_i · IC[i+1]
	var kSum bn254.G1Jac
	if len(scalars) > 0 {
		if _, err := kSum.MultiExp(vk.IC[1:], scalars, ecc.MultiExpConfig{}); err != nil {
			return false, fmt.Errorf("verifier: computing input combination: %w", err)
		}
	}
	kSum.AddMixed(&vk.IC[0])
	var vkx bn254.G1Affine
	vkx.FromJacobian(&kSum)

	// e(-A, B) · e(alpha, beta) · e(vk_x, gamma) · e(C, delta) == 1
	var negA bn254.G1Affine
	negA.Neg(&proof.A)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.Alpha, vkx, proof.C},
		[]bn254.G2Affine{proof.B, vk.Beta, vk.Gamma, vk.Delta},
	)
	if err != nil {
		return false, fmt.Errorf("verifier: pairing check: %w", err)
	}
	return ok, nil
}

func (p *Proof) validate() error {
	if err := checkG1(&p.A); err != nil {
		return fmt.Errorf("%w: point A: %v", ErrInvalidProofEncoding, err)
	}
	if err := checkG2(&p.B); err != nil {
		return fmt.Errorf("%w: point B: %v", ErrInvalidProofEncoding, err)
	}
	if err := checkG1(&p.C); err != nil {
		return fmt.Errorf("%w: point C: %v", ErrInvalidProofEncoding, err)
	}
	return nil
}

func checkG1(p *bn254.G1Affine) error {
	if p.IsInfinity() {
		return nil
	}
	if !p.IsOnCurve() {
		return errors.New("not on curve")
	}
	if !p.IsInSubGroup() {
		return errors.New("not in subgroup")
	}
	return nil
}

func checkG2(p *bn254.G2Affine) error {
	if p.IsInfinity() {
		return nil
	}
	if !p.IsOnCurve() {
		return errors.New("not on curve")
	}
	if !p.IsInSubGroup() {
		return errors.New("not in subgroup")
	}
	return nil
}
