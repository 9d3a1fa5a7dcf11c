package cli

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bizmesh/beckn-gateway/internal/signing"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify a signed payload offline",
	Long: `Verify the payload read from the given file (or stdin) against an
Authorization header using an explicitly supplied public key, without
consulting the registry. An offline debugging aid only; the service
itself always resolves keys through the registry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		publicKey, _ := cmd.Flags().GetString("public-key")
		header, _ := cmd.Flags().GetString("header")

		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		key, err := signing.ParsePublicKey(publicKey)
		if err != nil {
			return err
		}

		verifier := signing.NewVerifier(staticResolver{key: key})
		subscriberID, err := verifier.Verify(context.Background(), payload, header)
		if err != nil {
			return err
		}

		fmt.Printf("verified: subscriber %s\n", subscriberID)
		return nil
	},
}

// staticResolver resolves every key to one fixed public key.
type staticResolver struct {
	key ed25519.PublicKey
}

func (r staticResolver) ResolveKey(ctx context.Context, subscriberID, ukID string) (ed25519.PublicKey, error) {
	return r.key, nil
}

func (r staticResolver) Invalidate(subscriberID, ukID string) {}

func init() {
	verifyCmd.Flags().String("public-key", "", "base64 ed25519 public key")
	verifyCmd.Flags().String("header", "", "Authorization header value")
	_ = verifyCmd.MarkFlagRequired("public-key")
	_ = verifyCmd.MarkFlagRequired("header")
	rootCmd.AddCommand(verifyCmd)
}
