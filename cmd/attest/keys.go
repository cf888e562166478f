package attest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zkidentity/attest/devproof"
	"github.com/zkidentity/attest/models"
	"github.com/zkidentity/attest/verifier"
)

func NewKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage verification keys",
		Long:  `Generate and inspect Groth16 verification key files used by the server.`,
	}

	cmd.AddCommand(newKeysGenerateCmd(), newKeysInspectCmd())

	return cmd
}

type generateConfig struct {
	outputDir string
	version   uint
	force     bool
}

func newKeysGenerateCmd() *cobra.Command {
	cfg := &generateConfig{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate development verification keys",
		Long:  `Run the development trusted setup and write one verification key file per proof kind. The resulting keys belong to the built-in reference circuit and must not be used in production.`,
		Example: `  # Generate keys for all proof kinds
  attest keys generate -o ./keys

  # Write a new key version without touching version 1
  attest keys generate -o ./keys --key-version 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.outputDir, "output", "o", "./keys", "Output directory for verification keys")
	cmd.Flags().UintVar(&cfg.version, "key-version", 1, "Version suffix for the generated key files")
	cmd.Flags().BoolVarP(&cfg.force, "force", "f", false, "Overwrite existing files")

	return cmd
}

func runGenerate(cfg *generateConfig) error {
	if !cfg.force {
		for kind := models.ProofKind(0); kind < models.NumProofKinds; kind++ {
			path := filepath.Join(cfg.outputDir, fmt.Sprintf("%s-%d.vk", kind, cfg.version))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	start := time.Now()
	fmt.Printf("Running development setup...\n")

	if err := devproof.WriteKeys(cfg.outputDir, cfg.version); err != nil {
		return err
	}

	for kind := models.ProofKind(0); kind < models.NumProofKinds; kind++ {
		fmt.Printf("[OK] %s\n", filepath.Join(cfg.outputDir, fmt.Sprintf("%s-%d.vk", kind, cfg.version)))
	}
	fmt.Printf("Done in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func newKeysInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the structure of a verification key file",
		Example: `  # Inspect a key file
  attest keys inspect ./keys/age-1.vk`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}

	return cmd
}

func runInspect(path string) error {
	vk, err := verifier.LoadKey(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	fmt.Printf("  file:          %s (%d bytes)\n", path, info.Size())
	fmt.Printf("  curve:         bn254\n")
	fmt.Printf("  public inputs: %d\n", vk.NumPublicInputs())
	fmt.Printf("  ic points:     %d\n", len(vk.IC))
	fmt.Printf("  alpha:         %s\n", vk.Alpha.String())
	return nil
}
