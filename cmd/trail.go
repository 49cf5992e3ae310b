package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/clinical-abstraction/internal/ledger"
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/report"
	"github.com/sells-group/clinical-abstraction/internal/store"
)

var trailCmd = &cobra.Command{
	Use:   "trail",
	Short: "Inspect processed cases and their audit trails",
	Long:  "Commands for listing processed cases, verifying a case's hash-chained audit trail, and exporting it.",
}

// -- trail list --

var trailListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed cases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "trail")
		if err != nil {
			return err
		}
		defer env.Close()

		patient, _ := cmd.Flags().GetString("patient")
		limit, _ := cmd.Flags().GetInt("limit")

		cases, err := env.Store.ListCases(ctx, store.CaseFilter{PatientID: patient, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "trail list")
		}
		if len(cases) == 0 {
			fmt.Fprintln(os.Stderr, "No cases found.")
			return nil
		}

		formatCaseList(os.Stdout, cases)
		return nil
	},
}

// -- trail verify --

var trailVerifyCmd = &cobra.Command{
	Use:   "verify <case-id>",
	Short: "Re-derive and check a case's audit hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "trail")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Ledger.Trail(ctx, args[0])
		if err != nil {
			return err
		}
		if err := ledger.Verify(entries); err != nil {
			return eris.Wrapf(err, "case %s trail is not intact", args[0])
		}

		fmt.Fprintf(os.Stdout, "case %s: %d entries, chain intact (head %s)\n",
			args[0], len(entries), entries[len(entries)-1].Hash)
		return nil
	},
}

// -- trail export --

var trailExportCmd = &cobra.Command{
	Use:   "export <case-id>",
	Short: "Export a case's result set and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		if format != "json" && format != "xlsx" {
			return eris.Errorf("unsupported format: %s", format)
		}
		if format == "xlsx" && out == "" {
			return eris.New("--out is required for xlsx export")
		}

		env, err := initEnv(ctx, "trail")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Store.GetCase(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "trail export")
		}
		entries, err := env.Ledger.Trail(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "trail export")
		}

		w, closeOut, err := openOutput(out)
		if err != nil {
			return err
		}
		defer closeOut()

		if format == "xlsx" {
			return report.WriteXLSX(w, []model.CaseResult{*result}, map[string][]model.AuditEntry{result.CaseID: entries})
		}
		return report.WriteJSON(w, map[string]any{
			"result": result,
			"trail":  entries,
		})
	},
}

func formatCaseList(w io.Writer, cases []model.CaseResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tPATIENT\tPROCESSED\tPOPULATED\tREVIEW\tREJECTED\tCOMPLETION")
	for i := range cases {
		s := report.Summarize(&cases[i])
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.0f%%\n",
			s.CaseID,
			cases[i].PatientID,
			cases[i].ProcessedAt.Format("2006-01-02 15:04"),
			s.Populated,
			s.NeedsReview,
			s.Rejected,
			s.CompletionRate*100,
		)
	}
	_ = tw.Flush()
}

func init() {
	trailListCmd.Flags().String("patient", "", "filter by patient id")
	trailListCmd.Flags().Int("limit", store.DefaultListLimit, "max cases to list")

	trailExportCmd.Flags().String("format", "json", "export format: json or xlsx")
	trailExportCmd.Flags().String("out", "", "output file (required for xlsx)")

	trailCmd.AddCommand(trailListCmd, trailVerifyCmd, trailExportCmd)
	rootCmd.AddCommand(trailCmd)
}
