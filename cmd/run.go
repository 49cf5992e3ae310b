package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/clinical-abstraction/internal/adjudicate"
	"github.com/sells-group/clinical-abstraction/internal/extraction"
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/report"
)

var (
	runCase   string
	runBundle string
	runFormat string
	runOut    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Adjudicate a single patient case",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runCase == "" && runBundle == "" {
			return eris.New("one of --case or --bundle is required")
		}
		if runFormat != "text" && runFormat != "json" {
			return eris.Errorf("unsupported format: %s", runFormat)
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		var bundle *model.CaseBundle
		if runBundle != "" {
			bundle, err = extraction.ReadBundleFile(runBundle)
		} else {
			var src caseSource
			if src, err = initSource(); err != nil {
				return err
			}
			bundle, err = src.Load(ctx, runCase)
		}
		if err != nil {
			return eris.Wrap(err, "load case")
		}

		out, err := env.Processor.Process(ctx, *bundle)
		if err != nil {
			return eris.Wrapf(err, "process case %s", bundle.CaseID)
		}

		w, closeOut, err := openOutput(runOut)
		if err != nil {
			return err
		}
		defer closeOut()

		return writeOutcome(w, out, runFormat)
	},
}

func writeOutcome(w io.Writer, out *adjudicate.Outcome, format string) error {
	if format == "json" {
		return report.WriteJSON(w, out)
	}
	_, err := fmt.Fprint(w, report.FormatText(report.BuildForm(out.Result)))
	return err
}

// openOutput returns stdout when path is empty.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func init() {
	runCmd.Flags().StringVar(&runCase, "case", "", "case id to load from the extraction source")
	runCmd.Flags().StringVar(&runBundle, "bundle", "", "path to a prepared candidate bundle (JSON)")
	runCmd.Flags().StringVar(&runFormat, "format", "text", "output format: text or json")
	runCmd.Flags().StringVar(&runOut, "out", "", "write output to file instead of stdout")
	rootCmd.AddCommand(runCmd)
}
