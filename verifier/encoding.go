package verifier

import (
	"encoding/binary"
	"fmt"
	"os"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
)

// Wire sizes. Every base-field coordinate is a 32-byte big-endian canonical
// encoding; G2 coordinates are laid out imaginary-part first (x1‖x0‖y1‖y0),
// matching the circuit compiler's export format.
const (
	coordSize = 32
	G1Size    = 2 * coordSize
	G2Size    = 4 * coordSize

	// ProofSize is the fixed proof blob size: A (G1) ‖ B (G2) ‖ C (G1).
	ProofSize = G1Size + G2Size + G1Size
)

// UnmarshalProof decodes a 256-byte proof blob, validating that all points
// are on-curve and in the correct subgroups.
func UnmarshalProof(blob []byte) (*Proof, error) {
	if len(blob) != ProofSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidProofEncoding, len(blob), ProofSize)
	}

	var p Proof
	if err := unmarshalG1(&p.A, blob[:G1Size]); err != nil {
		return nil, fmt.Errorf("%w: point A: %v", ErrInvalidProofEncoding, err)
	}
	if err := unmarshalG2(&p.B, blob[G1Size:G1Size+G2Size]); err != nil {
		return nil, fmt.Errorf("%w: point B: %v", ErrInvalidProofEncoding, err)
	}
	if err := unmarshalG1(&p.C, blob[G1Size+G2Size:]); err != nil {
		return nil, fmt.Errorf("%w: point C: %v", ErrInvalidProofEncoding, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal encodes the proof into its fixed 256-byte wire form.
func (p *Proof) Marshal() []byte {
	out := make([]byte, 0, ProofSize)
	out = appendG1(out, &p.A)
	out = appendG2(out, &p.B)
	out = appendG1(out, &p.C)
	return out
}

// MarshalKey encodes a verification key:
// alpha ‖ beta ‖ gamma ‖ delta ‖ ic count (4-byte big-endian) ‖ ic points.
func MarshalKey(vk *VerificationKey) []byte {
	out := make([]byte, 0, G1Size+3*G2Size+4+len(vk.IC)*G1Size)
	out = appendG1(out, &vk.Alpha)
	out = appendG2(out, &vk.Beta)
	out = appendG2(out, &vk.Gamma)
	out = appendG2(out, &vk.Delta)
	out = binary.BigEndian.AppendUint32(out, uint32(len(vk.IC)))
	for i := range vk.IC {
		out = appendG1(out, &vk.IC[i])
	}
	return out
}

// UnmarshalKey decodes a verification key blob.
func UnmarshalKey(blob []byte) (*VerificationKey, error) {
	header := G1Size + 3*G2Size + 4
	if len(blob) < header {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrInvalidKeyEncoding, len(blob))
	}

	var vk VerificationKey
	off := 0
	if err := unmarshalG1(&vk.Alpha, blob[off:off+G1Size]); err != nil {
		return nil, fmt.Errorf("%w: alpha: %v", ErrInvalidKeyEncoding, err)
	}
	off += G1Size
	for _, g2 := range []struct {
		name string
		dst  *bn254.G2Affine
	}{
		{"beta", &vk.Beta},
		{"gamma", &vk.Gamma},
		{"delta", &vk.Delta},
	} {
		if err := unmarshalG2(g2.dst, blob[off:off+G2Size]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKeyEncoding, g2.name, err)
		}
		off += G2Size
	}

	count := binary.BigEndian.Uint32(blob[off : off+4])
	off += 4
	if count == 0 {
		return nil, fmt.Errorf("%w: empty IC", ErrInvalidKeyEncoding)
	}
	if len(blob) != off+int(count)*G1Size {
		return nil, fmt.Errorf("%w: %d bytes for %d IC points", ErrInvalidKeyEncoding, len(blob)-off, count)
	}

	vk.IC = make([]bn254.G1Affine, count)
	for i := range vk.IC {
		if err := unmarshalG1(&vk.IC[i], blob[off:off+G1Size]); err != nil {
			return nil, fmt.Errorf("%w: ic[%d]: %v", ErrInvalidKeyEncoding, i, err)
		}
		off += G1Size
	}
	return &vk, nil
}

// LoadKey reads and decodes a verification key file.
func LoadKey(path string) (*VerificationKey, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verifier: reading key file: %w", err)
	}
	vk, err := UnmarshalKey(blob)
	if err != nil {
		return nil, fmt.Errorf("verifier: %s: %w", path, err)
	}
	return vk, nil
}

func appendG1(out []byte, p *bn254.G1Affine) []byte {
	x := p.X.Bytes()
	y := p.Y.Bytes()
	out = append(out, x[:]...)
	return append(out, y[:]...)
}

func appendG2(out []byte, p *bn254.G2Affine) []byte {
	x1 := p.X.A1.Bytes()
	x0 := p.X.A0.Bytes()
	y1 := p.Y.A1.Bytes()
	y0 := p.Y.A0.Bytes()
	out = append(out, x1[:]...)
	out = append(out, x0[:]...)
	out = append(out, y1[:]...)
	return append(out, y0[:]...)
}

func unmarshalG1(p *bn254.G1Affine, b []byte) error {
	if err := setCoord(&p.X, b[:coordSize]); err != nil {
		return err
	}
	return setCoord(&p.Y, b[coordSize:])
}

func unmarshalG2(p *bn254.G2Affine, b []byte) error {
	if err := setCoord(&p.X.A1, b[:coordSize]); err != nil {
		return err
	}
	if err := setCoord(&p.X.A0, b[coordSize:2*coordSize]); err != nil {
		return err
	}
	if err := setCoord(&p.Y.A1, b[2*coordSize:3*coordSize]); err != nil {
		return err
	}
	return setCoord(&p.Y.A0, b[3*coordSize:])
}

func setCoord(e *fp.Element, b []byte) error {
	return e.SetBytesCanonical(b)
}
