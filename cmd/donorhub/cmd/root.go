package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "donorhub",
	Short: "DonorHub is a donor registration and payment service",
	Long: `A multi-tenant backend for donor test registrations, laboratory
confirmation, checkout payments and the service catalog.`,
	Version: Version,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
}
