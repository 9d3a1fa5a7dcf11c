package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "beckn-gateway",
	Short: "Signed-message gateway for the ONDC/Beckn network",
	Long: `beckn-gateway mediates message exchange between network counterparties.

Every inbound request is signature-verified against registry-resolved
keys, acknowledged immediately, and processed in the background exactly
once per message. Outbound callbacks are signed and retried with bounded
backoff.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
}
