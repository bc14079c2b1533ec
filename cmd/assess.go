package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridoc/kyc-engine/internal/model"
)

var assessBatch bool

var assessCmd = &cobra.Command{
	Use:   "assess [file]",
	Short: "Assess a submission from a JSON file (or stdin)",
	Long:  "Runs the full assessment pipeline for one submission, or for an array of submissions with --batch. Use \"-\" or no argument to read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := readInput(args)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "assess")
		if err != nil {
			return err
		}
		defer env.Close()

		if assessBatch {
			var subs []model.Submission
			if err := json.Unmarshal(data, &subs); err != nil {
				return eris.Wrap(err, "parse submissions")
			}
			items := env.Engine.AssessBatch(ctx, subs)

			var failed int
			for _, item := range items {
				if item.Err != "" {
					failed++
				}
			}
			zap.L().Info("batch complete",
				zap.Int("total", len(items)),
				zap.Int("failed", failed),
			)
			return printJSON(items)
		}

		var sub model.Submission
		if err := json.Unmarshal(data, &sub); err != nil {
			return eris.Wrap(err, "parse submission")
		}

		result, err := env.Engine.Assess(ctx, &sub)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, eris.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(args[0])
	return data, eris.Wrapf(err, "read %s", args[0])
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}

func init() {
	assessCmd.Flags().BoolVar(&assessBatch, "batch", false, "input is a JSON array of submissions")
	rootCmd.AddCommand(assessCmd)
}
