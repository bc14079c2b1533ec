package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridoc/kyc-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kyc-engine",
	Short: "KYC risk assessment and routing engine",
	Long:  "Scores KYC submissions against per-country rule sets, blends an optional AI risk signal, and routes them to auto-approval or human review with a full audit trail.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
