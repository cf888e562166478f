package main

import (
	"github.com/spf13/cobra"
	"github.com/zkidentity/attest/cmd/attest"
)

// Init the cmd
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "attest",
		Short: "Identity Attribute Verification Server",
		Long:  `Tools and APIs for verifying zero-knowledge identity attribute proofs`,
	}

	rootCmd.AddCommand(
		attest.NewServeCmd(),
		attest.NewKeysCmd(),
		NewVersionCmd(),
	)

	return rootCmd
}
