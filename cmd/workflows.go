package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/store"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect and resume evaluation workflows",
}

var workflowsStatus string

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow states",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		states, err := env.Store.ListWorkflowStates(cmd.Context(), store.WorkflowFilter{
			Status: model.WorkflowStatus(workflowsStatus),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, states)
	},
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show <applicant-id>",
	Short: "Show one workflow state with its stage results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Store.GetWorkflowState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		results, err := env.Store.ListStageResults(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"state":  state,
			"stages": results,
		})
	},
}

var workflowsResumeCmd = &cobra.Command{
	Use:   "resume <applicant-id>",
	Short: "Restart a paused workflow from the first stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Orchestrator.Resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

var auditType string

var auditCmd = &cobra.Command{
	Use:   "audit <applicant-id>",
	Short: "List an applicant's audit events in sequence order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		events, err := env.Audit.Query(cmd.Context(), args[0], store.AuditFilter{
			Type: model.InteractionType(auditType),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, events)
	},
}

func init() {
	workflowsListCmd.Flags().StringVar(&workflowsStatus, "status", "", "filter by status (running, paused, complete, failed)")
	auditCmd.Flags().StringVar(&auditType, "type", "", "filter by interaction type")
	workflowsCmd.AddCommand(workflowsListCmd, workflowsShowCmd, workflowsResumeCmd)
	rootCmd.AddCommand(workflowsCmd, auditCmd)
}
