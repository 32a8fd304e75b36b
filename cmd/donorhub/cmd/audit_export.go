package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/crypto"
)

// auditExport is the file format written by "audit export" and read by
// "audit verify". Details stay sealed so the chain hashes can be
// recomputed without the encryption key.
type auditExport struct {
	ExportedAt time.Time     `json:"exported_at"`
	Entries    []audit.Entry `json:"entries"`
}

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit trail as JSON",
	Long: `Writes every audit entry in chain order, with details left sealed,
to a JSON file that "donorhub audit verify" can check offline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		repo, closeRepo, err := openStorage(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		engine, err := crypto.NewEngineFromHex(cfg.EncKey, cfg.EncIV)
		if err != nil {
			return fmt.Errorf("failed to initialise cipher engine: %w", err)
		}
		entries, err := audit.NewLog(repo, engine).Export(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read audit trail: %w", err)
		}

		var out io.Writer = cmd.OutOrStdout()
		if exportOutput != "" && exportOutput != "-" {
			f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", exportOutput, err)
			}
			defer f.Close()
			out = f
		}
		return writeExport(out, auditExport{ExportedAt: time.Now().UTC(), Entries: entries})
	},
}

func writeExport(w io.Writer, export auditExport) error {
	if export.Entries == nil {
		export.Entries = []audit.Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

func init() {
	auditCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "File to write (default stdout)")
	addStorageFlags(exportCmd)
}
