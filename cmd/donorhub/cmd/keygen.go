package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/donorhub/crypto"
	"github.com/jmcleod/donorhub/internal/util"
)

const jwtSecretSize = 32

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate fresh encryption and token secrets",
	Long: `Prints a random AES-256 key, CBC IV and token signing secret in
dotenv form. The key and IV cannot be rotated once data is written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := util.RandomBytes(crypto.KeySize)
		if err != nil {
			return err
		}
		iv, err := util.RandomBytes(crypto.IVSize)
		if err != nil {
			return err
		}
		secret, err := util.RandomBytes(jwtSecretSize)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "DONORHUB_ENC_KEY=%s\n", util.HexEncode(key))
		fmt.Fprintf(out, "DONORHUB_ENC_IV=%s\n", util.HexEncode(iv))
		fmt.Fprintf(out, "DONORHUB_JWT_SECRET=%s\n", util.HexEncode(secret))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
