package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigcoord/coordinator/share"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Inspect hmsc: share strings",
}

var shareDecodeCmd = &cobra.Command{
	Use:   "decode <hmsc-string>",
	Short: "Decode an hmsc: share string into its server_url/session_id/auth_token triple",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := share.Decode(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "server_url:  %s\n", info.ServerURL)
		fmt.Fprintf(cmd.OutOrStdout(), "session_id:  %s\n", info.SessionID)
		fmt.Fprintf(cmd.OutOrStdout(), "auth_token:  %s\n", info.AuthToken)
		return nil
	},
}

var (
	shareEncodeServerURL string
	shareEncodeSessionID string
	shareEncodeAuthToken string
)

var shareEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build an hmsc: share string from its parts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := share.Encode(share.Info{
			ServerURL: shareEncodeServerURL,
			SessionID: shareEncodeSessionID,
			AuthToken: shareEncodeAuthToken,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shareCmd)
	shareCmd.AddCommand(shareDecodeCmd)
	shareCmd.AddCommand(shareEncodeCmd)

	shareEncodeCmd.Flags().StringVar(&shareEncodeServerURL, "server-url", "", "ws(s)://host:port the coordinator listens on")
	shareEncodeCmd.Flags().StringVar(&shareEncodeSessionID, "session-id", "", "session identifier")
	shareEncodeCmd.Flags().StringVar(&shareEncodeAuthToken, "auth-token", "", "session auth token")
	shareEncodeCmd.MarkFlagRequired("server-url")
	shareEncodeCmd.MarkFlagRequired("session-id")
	shareEncodeCmd.MarkFlagRequired("auth-token")
}
