package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/model"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Ingest a document and match it to an applicant",
	Long:  "Extracts the document's identity, attaches it to an existing applicant when the match confidence clears the threshold, and otherwise creates a new applicant. A paused workflow on the matched applicant is resumed automatically.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read upload %s", args[0])
		}

		rec, err := env.Matcher.HandleUpload(cmd.Context(), filepath.Base(args[0]), string(data))
		if err != nil {
			return err
		}

		// A matched upload may carry the data a paused workflow is waiting
		// on, or new material for a completed one; re-enter the pipeline so
		// the new document is picked up.
		if rec.Decision == model.DecisionMatchedExisting {
			state, err := env.Store.GetWorkflowState(cmd.Context(), rec.MatchedApplicantID)
			if err == nil && (state.Status == model.WorkflowStatusPaused || state.Status == model.WorkflowStatusComplete) {
				zap.L().Info("upload matched an existing workflow, re-evaluating",
					zap.String("applicant_id", rec.MatchedApplicantID),
					zap.String("status", string(state.Status)),
				)
				if _, err := env.Orchestrator.Resume(cmd.Context(), rec.MatchedApplicantID); err != nil {
					zap.L().Warn("resume after upload failed", zap.Error(err))
				}
			}
		}

		return printJSON(cmd, rec)
	},
}

var reviewFlags struct {
	approve  bool
	reviewer string
	notes    string
}

var uploadReviewCmd = &cobra.Command{
	Use:   "review <upload-id>",
	Short: "Record a human review decision on an upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Matcher.Review(cmd.Context(), args[0], model.UploadReview{
			Approved:   reviewFlags.approve,
			ReviewerID: reviewFlags.reviewer,
			Notes:      reviewFlags.notes,
		}); err != nil {
			return err
		}

		rec, err := env.Store.GetUploadRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}

func init() {
	uploadReviewCmd.Flags().BoolVar(&reviewFlags.approve, "approve", false, "approve the match decision")
	uploadReviewCmd.Flags().StringVar(&reviewFlags.reviewer, "reviewer", "", "reviewer identifier")
	uploadReviewCmd.Flags().StringVar(&reviewFlags.notes, "notes", "", "review notes")
	_ = uploadReviewCmd.MarkFlagRequired("reviewer")
	uploadCmd.AddCommand(uploadReviewCmd)
	rootCmd.AddCommand(uploadCmd)
}
