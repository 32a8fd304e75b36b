package cmd

import "github.com/spf13/cobra"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail export and verification tools",
	Long:  `Commands for exporting and verifying the hash-chained audit trail.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
