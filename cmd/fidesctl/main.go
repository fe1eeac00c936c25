// Command fidesctl is the operator CLI for a fidesd deployment: reading
// merged values and key listings, submitting authored blobs, and signing
// manifests for sources that require a signature delegate.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fidesctl",
	Short:   "fidesctl operates a fidesd settings document store",
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fidesctl version %s (%s)\n", version, commit))
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "fidesd API address")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(signCmd)
}
