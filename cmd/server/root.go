package main

import (
	"github.com/spf13/cobra"
	"proctor-stream/internal/auth"
	"proctor-stream/internal/config"
)

const issuer = "proctor-stream"

var rootCmd = &cobra.Command{
	Use:          "proctor-stream",
	Short:        "Exam proctoring stream server",
	Long:         `HTTP + WebSocket frame ingestion with per-user exam sessions. Commands: serve, token.`,
	RunE:         runServe, // default: same as "proctor-stream serve"
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

func tokenConfig(cfg config.Config) auth.TokenConfig {
	return auth.TokenConfig{
		Secret:       cfg.JWTSecret,
		Expiry:       cfg.TokenExpiry,
		StreamExpiry: cfg.StreamTokenExpiry,
		Issuer:       issuer,
	}
}
