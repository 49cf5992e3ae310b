package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/report"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the loaded abstraction rules",
	Long:  "Loads the rule catalog from the configured source, validates it and prints every rule bound to a form field.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("rules"); err != nil {
			return err
		}
		cat, err := initCatalog(ctx)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		section, _ := cmd.Flags().GetString("section")
		if section != "" && !model.IsSection(section) {
			return eris.Errorf("unknown section: %s", section)
		}

		var rules []model.Rule
		for _, r := range cat.All() {
			if section == "" || string(r.Field.Section()) == section {
				rules = append(rules, r)
			}
		}

		switch format {
		case "json":
			return report.WriteJSON(os.Stdout, rules)
		case "text":
			formatRules(os.Stdout, rules)
			return nil
		default:
			return eris.Errorf("unsupported format: %s", format)
		}
	},
}

func formatRules(w io.Writer, rules []model.Rule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tRULE\tSOURCES\tWINDOW\tCORROBORATION\tMIN CONF\tREVIEW")
	for _, r := range rules {
		types := make([]string, len(r.AllowedTypes))
		for i, t := range r.AllowedTypes {
			types[i] = string(t)
		}
		window := "-"
		if r.Window != nil {
			window = fmt.Sprintf("%+d..%+d mo", r.Window.StartMonths, r.Window.EndMonths)
		}
		review := ""
		if r.AlwaysReview {
			review = "always"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Field, r.ID, strings.Join(types, ","), window, r.Corroboration.Mode, r.MinConfidence, review)
	}
	_ = tw.Flush()
}

func init() {
	rulesCmd.Flags().String("format", "text", "output format: text or json")
	rulesCmd.Flags().String("section", "", "only show rules for one form section")
	rootCmd.AddCommand(rulesCmd)
}
