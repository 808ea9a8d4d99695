package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "orderctl",
		Short:         "Operator tool for the engagement order service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(supplierCmd())

	return rootCmd
}
