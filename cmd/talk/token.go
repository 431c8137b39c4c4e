package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/satriahrh/voicebridge/internal/auth"
	"github.com/satriahrh/voicebridge/internal/config"
)

var (
	tokenClientID string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a relay token signed with JWT_SECRET",
	Long: `Token prints a bearer token accepted by the voice server's /ws and
/session endpoints. It must run with the same JWT_SECRET as the server.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenClientID, "client-id", "talk-cli", "client id embedded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFiles()...)
	if err != nil {
		return err
	}
	signer, err := auth.NewSigner(cfg.JWTSecret, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	token, err := signer.GenerateClientToken(tokenClientID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
