package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bizmesh/beckn-gateway/internal/signing"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 signing keypair",
	Long: `Generate a new ed25519 keypair in the base64 raw form the registry
expects. Register the public key with the network registry and keep the
private key in the gateway configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keypair, err := signing.GenerateKeypair()
		if err != nil {
			return err
		}
		fmt.Printf("signing_public_key:  %s\n", keypair.PublicKey)
		fmt.Printf("signing_private_key: %s\n", keypair.PrivateKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
