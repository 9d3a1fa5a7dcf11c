package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bizmesh/beckn-gateway/internal/signing"
)

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Sign a payload and print the authorization header",
	Long: `Sign the payload read from the given file (or stdin) and print the
resulting Authorization header. Useful for checking a key registration or
driving another participant's endpoint by hand.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, _ := cmd.Flags().GetString("private-key")
		subscriberID, _ := cmd.Flags().GetString("subscriber-id")
		ukID, _ := cmd.Flags().GetString("uk-id")

		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		signer, err := signing.NewSigner(privateKey, subscriberID, ukID)
		if err != nil {
			return err
		}
		signed, err := signer.Sign(payload)
		if err != nil {
			return err
		}

		fmt.Println(signed.AuthHeader)
		return nil
	},
}

func init() {
	signCmd.Flags().String("private-key", "", "base64 ed25519 private key")
	signCmd.Flags().String("subscriber-id", "", "subscriber ID for the keyId field")
	signCmd.Flags().String("uk-id", "", "unique key ID for the keyId field")
	_ = signCmd.MarkFlagRequired("private-key")
	_ = signCmd.MarkFlagRequired("subscriber-id")
	_ = signCmd.MarkFlagRequired("uk-id")
	rootCmd.AddCommand(signCmd)
}

func readPayload(args []string) ([]byte, error) {
	if len(args) == 1 {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return payload, nil
	}
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return payload, nil
}
