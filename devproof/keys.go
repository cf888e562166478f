package devproof

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/verifier"
)

// WriteKeys runs the development setup and writes one verification key file
// per proof kind into dir, in the <kind>-<version>.vk layout the server
// loads at startup. All three kinds share the reference circuit here; real
// deployments ship one compiled key per circuit.
func WriteKeys(dir string, version uint) error {
	vk, err := VerificationKey()
	if err != nil {
		return err
	}
	blob := verifier.MarshalKey(vk)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("devproof: creating key dir: %w", err)
	}
	for kind := models.ProofKind(0); kind < models.NumProofKinds; kind++ {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.vk", kind, version))
		if err := os.WriteFile(path, blob, 0o644); err != nil {
			return fmt.Errorf("devproof: writing %s: %w", path, err)
		}
	}
	return nil
}
