package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/evaluation-cli/internal/model"
)

var evaluateFlags struct {
	givenName  string
	familyName string
	schoolName string
	stateCode  string
	docPaths   []string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the evaluation workflow for one applicant submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		var docs []string
		for _, path := range evaluateFlags.docPaths {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read document %s", path)
			}
			docs = append(docs, string(data))
		}

		result, err := env.Orchestrator.Evaluate(cmd.Context(), model.Submission{
			GivenName:  evaluateFlags.givenName,
			FamilyName: evaluateFlags.familyName,
			SchoolName: evaluateFlags.schoolName,
			StateCode:  evaluateFlags.stateCode,
			Documents:  docs,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateFlags.givenName, "given", "", "applicant given name")
	evaluateCmd.Flags().StringVar(&evaluateFlags.familyName, "family", "", "applicant family name")
	evaluateCmd.Flags().StringVar(&evaluateFlags.schoolName, "school", "", "school name")
	evaluateCmd.Flags().StringVar(&evaluateFlags.stateCode, "state", "", "two-letter state code")
	evaluateCmd.Flags().StringSliceVar(&evaluateFlags.docPaths, "doc", nil, "document file (repeatable)")
	_ = evaluateCmd.MarkFlagRequired("given")
	_ = evaluateCmd.MarkFlagRequired("family")
	_ = evaluateCmd.MarkFlagRequired("school")
	_ = evaluateCmd.MarkFlagRequired("state")
	rootCmd.AddCommand(evaluateCmd)
}
