package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigcoord/coordinator/verify"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Convert public keys between base58 and the coordinator's base64 wire form",
}

var keyFromBase58Cmd = &cobra.Command{
	Use:   "from-base58 <base58-key>",
	Short: "Convert a base58 self-describing public key into an eligible_keys entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := verify.DecodeBase58(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(raw))
		return nil
	},
}

var keyToBase58Cmd = &cobra.Command{
	Use:   "to-base58 <eligible-keys-entry>",
	Short: "Convert an eligible_keys (base64) entry into base58 for display",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := base64.StdEncoding.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("decode base64 key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), verify.EncodeBase58(raw))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyFromBase58Cmd)
	keyCmd.AddCommand(keyToBase58Cmd)
}
