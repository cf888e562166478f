package main

import (
	"fmt"
	"os"
)

// attest - CLI tool and API service for privacy-preserving identity
// attribute verification
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
