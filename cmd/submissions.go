package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/veridoc/kyc-engine/internal/model"
	"github.com/veridoc/kyc-engine/internal/store"
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Inspect stored submissions and their assessment history",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		country, _ := cmd.Flags().GetString("country")
		outcome, _ := cmd.Flags().GetString("outcome")
		limit, _ := cmd.Flags().GetInt("limit")

		subs, err := st.ListSubmissions(ctx, store.SubmissionFilter{
			CountryCode: country,
			Outcome:     outcome,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "submissions list")
		}

		if len(subs) == 0 {
			fmt.Fprintln(os.Stderr, "No submissions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOUNTRY\tSCORE\tTIER\tOUTCOME\tCREATED")
		for _, sub := range subs {
			score, tier := "-", "-"
			if a, err := st.LatestAssessment(ctx, sub.ID); err == nil {
				score = fmt.Sprintf("%.0f", a.Score)
				tier = string(a.Tier)
			}
			outcome := "-"
			if d, err := st.GetDisposition(ctx, sub.ID); err == nil {
				outcome = string(d.Outcome)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				sub.ID, sub.CountryCode, score, tier, outcome,
				sub.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var submissionsShowCmd = &cobra.Command{
	Use:   "show <submission-id>",
	Short: "Show a submission with its assessments, disposition, and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sub, err := st.GetSubmission(ctx, args[0])
		if err != nil {
			return err
		}
		assessments, err := st.ListAssessments(ctx, sub.ID)
		if err != nil {
			return err
		}
		audit, err := st.ListAudit(ctx, sub.ID)
		if err != nil {
			return err
		}

		out := struct {
			Submission  *model.Submission      `json:"submission"`
			Assessments []model.RiskAssessment `json:"assessments"`
			Disposition *model.Disposition     `json:"disposition,omitempty"`
			Audit       []model.AuditEntry     `json:"audit"`
		}{
			Submission:  sub,
			Assessments: assessments,
			Audit:       audit,
		}
		if d, err := st.GetDisposition(ctx, sub.ID); err == nil {
			out.Disposition = d
		}
		return printJSON(out)
	},
}

func init() {
	submissionsListCmd.Flags().String("country", "", "filter by country code")
	submissionsListCmd.Flags().String("outcome", "", "filter by disposition outcome")
	submissionsListCmd.Flags().Int("limit", 50, "maximum rows")
	submissionsCmd.AddCommand(submissionsListCmd, submissionsShowCmd)
	rootCmd.AddCommand(submissionsCmd)
}
