package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/veridoc/kyc-engine/internal/model"
)

var (
	decideReviewer string
	decideNotes    string
)

var decideCmd = &cobra.Command{
	Use:   "decide <submission-id> <approve|reject>",
	Short: "Apply a reviewer decision to an open submission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if decideReviewer == "" {
			return eris.New("--reviewer is required")
		}

		env, err := initEngine(ctx, "assess")
		if err != nil {
			return err
		}
		defer env.Close()

		disposition, err := env.Engine.Decide(ctx, model.ReviewerDecision{
			SubmissionID: args[0],
			Decision:     args[1],
			ReviewerID:   decideReviewer,
			Notes:        decideNotes,
		})
		if err != nil {
			return err
		}
		return printJSON(disposition)
	},
}

func init() {
	decideCmd.Flags().StringVar(&decideReviewer, "reviewer", "", "reviewer identifier (required)")
	decideCmd.Flags().StringVar(&decideNotes, "notes", "", "optional decision notes")
	rootCmd.AddCommand(decideCmd)
}
