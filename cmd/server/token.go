package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"proctor-stream/internal/auth"
	"proctor-stream/internal/config"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a user (local testing)",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the sub claim")
}

func runToken(cmd *cobra.Command, _ []string) error {
	if tokenUser == "" {
		return errors.New("--user is required")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	token, err := auth.CreateToken(tokenUser, tokenConfig(cfg))
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
