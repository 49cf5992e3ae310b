package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/clinical-abstraction/internal/adjudicate"
	"github.com/sells-group/clinical-abstraction/internal/extraction"
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/report"
)

var (
	batchCases []string
	batchLimit int
	batchXLSX  string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Adjudicate many patient cases from the extraction source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := initSource()
		if err != nil {
			return err
		}

		ids := batchCases
		if len(ids) == 0 {
			ids, err = src.CaseIDs()
			if err != nil {
				return eris.Wrap(err, "list cases")
			}
		}
		if batchLimit > 0 && len(ids) > batchLimit {
			ids = ids[:batchLimit]
		}
		if len(ids) == 0 {
			zap.L().Info("batch: no cases to process")
			return nil
		}

		bundles, loadFailed := loadBundles(ctx, src, ids, cfg.Adjudication.MaxConcurrentCases)
		if cs, ok := src.(*extraction.ClaudeSource); ok {
			zap.L().Info("batch: extraction usage", cs.Usage().Fields(cs.Model())...)
		}

		zap.L().Info("batch: processing cases",
			zap.Int("cases", len(bundles)),
			zap.Int("load_failed", len(loadFailed)),
		)
		items := env.Processor.ProcessBatch(ctx, bundles, cfg.Adjudication.MaxConcurrentCases)

		results, trails, failed := collectBatch(items)
		failed = append(loadFailed, failed...)

		if batchXLSX != "" {
			w, closeOut, err := openOutput(batchXLSX)
			if err != nil {
				return err
			}
			defer closeOut()
			if err := report.WriteXLSX(w, results, trails); err != nil {
				return err
			}
			zap.L().Info("batch: wrote workbook", zap.String("path", batchXLSX))
		}

		zap.L().Info("batch: complete",
			zap.Int("processed", len(results)),
			zap.Int("failed", len(failed)),
		)
		if len(failed) > 0 {
			return eris.Errorf("batch: %d of %d cases failed: %s", len(failed), len(ids), strings.Join(failed, ", "))
		}
		return nil
	},
}

// loadBundles loads cases concurrently. Failed loads are logged and
// returned by id; the remaining bundles keep input order.
func loadBundles(ctx context.Context, src caseSource, ids []string, concurrency int) ([]model.CaseBundle, []string) {
	loaded := make([]*model.CaseBundle, len(ids))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, id := range ids {
		g.Go(func() error {
			b, err := src.Load(gCtx, id)
			if err != nil {
				zap.L().Error("batch: load case failed", zap.String("case_id", id), zap.Error(err))
				return nil
			}
			loaded[i] = b
			return nil
		})
	}
	_ = g.Wait()

	var (
		bundles []model.CaseBundle
		failed  []string
	)
	for i, b := range loaded {
		if b == nil {
			failed = append(failed, ids[i])
			continue
		}
		bundles = append(bundles, *b)
	}
	return bundles, failed
}

func collectBatch(items []adjudicate.BatchItem) ([]model.CaseResult, map[string][]model.AuditEntry, []string) {
	var (
		results []model.CaseResult
		failed  []string
	)
	trails := make(map[string][]model.AuditEntry, len(items))
	for _, it := range items {
		if it.Err != nil {
			failed = append(failed, it.CaseID)
			continue
		}
		results = append(results, *it.Outcome.Result)
		trails[it.CaseID] = it.Outcome.Trail
	}
	return results, trails, failed
}

func init() {
	batchCmd.Flags().StringSliceVar(&batchCases, "cases", nil, "case ids to process (default: every case in the source)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max cases to process (0 = all)")
	batchCmd.Flags().StringVar(&batchXLSX, "xlsx", "", "write results and trails to an Excel workbook")
	rootCmd.AddCommand(batchCmd)
}
