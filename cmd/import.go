package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/roster"
)

var importFlags struct {
	sheet       string
	concurrency int
}

var importCmd = &cobra.Command{
	Use:   "import <roster.xlsx>",
	Short: "Run evaluations for every row of a roster workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		subs, err := roster.Read(args[0], roster.Options{SheetName: importFlags.sheet})
		if err != nil {
			return err
		}
		zap.L().Info("roster loaded",
			zap.String("file", args[0]),
			zap.Int("rows", len(subs)),
		)

		type rowResult struct {
			ApplicantID string               `json:"applicant_id,omitempty"`
			Status      model.WorkflowStatus `json:"status,omitempty"`
			Error       string               `json:"error,omitempty"`
		}
		results := make([]rowResult, len(subs))

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(importFlags.concurrency)
		for i, sub := range subs {
			g.Go(func() error {
				res, err := env.Orchestrator.Evaluate(ctx, sub)
				if err != nil {
					// One bad row never aborts the rest of the roster.
					zap.L().Error("roster row failed",
						zap.Int("row", i+2),
						zap.Error(err),
					)
					results[i] = rowResult{Error: err.Error()}
					return nil
				}
				results[i] = rowResult{ApplicantID: res.ApplicantID, Status: res.Status}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return printJSON(cmd, results)
	},
}

func init() {
	importCmd.Flags().StringVar(&importFlags.sheet, "sheet", "", "sheet name (default first sheet)")
	importCmd.Flags().IntVar(&importFlags.concurrency, "concurrency", 2, "concurrent evaluations")
	rootCmd.AddCommand(importCmd)
}
