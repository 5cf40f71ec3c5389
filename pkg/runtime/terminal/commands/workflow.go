package commands

import (
	"fmt"

	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

func NewWorkflowCmd(load Loader, reporter *export.Reporter) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and seed consent workflows",
	}
	cmd.AddCommand(newShowCmd(load, reporter))
	cmd.AddCommand(newHoldingsCmd(load, reporter))
	cmd.AddCommand(newCreateCmd(load, reporter))
	return cmd
}

func newShowCmd(load Loader, reporter *export.Reporter) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), load, func(env *Env) error {
				rec, err := env.Store.GetWorkflow(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return reporter.Workflow(rec)
			})
		},
	}
}

func newHoldingsCmd(load Loader, reporter *export.Reporter) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings <workflow-id>",
		Short: "List the holdings extracted for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), load, func(env *Env) error {
				holdings, err := env.Store.ListHoldings(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return reporter.Holdings(holdings)
			})
		},
	}
}

type createCmd struct {
	userRef       string
	consentHandle string
	from          string
	to            string
}

func newCreateCmd(load Loader, reporter *export.Reporter) *cobra.Command {
	cc := &createCmd{}
	cmd := &cobra.Command{
		Use:   "create <workflow-id>",
		Short: "Seed a workflow for a consent handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := &domain.WorkflowRecord{
				WorkflowID:  args[0],
				UserRef:     cc.userRef,
				Status:      domain.WorkflowStatusPending,
				ConsentFlow: domain.ConsentFlow{ConsentHandle: cc.consentHandle},
				ConsentItem: domain.ConsentItem{ConsentDetail: domain.ConsentDetail{
					FIDataRange: domain.DateRange{From: cc.from, To: cc.to},
				}},
			}
			return withEnv(cmd.Context(), load, func(env *Env) error {
				if err := env.Store.CreateWorkflow(cmd.Context(), rec); err != nil {
					return fmt.Errorf("failed to create workflow: %w", err)
				}
				created, err := env.Store.GetWorkflow(cmd.Context(), rec.WorkflowID)
				if err != nil {
					return err
				}
				return reporter.Workflow(created)
			})
		},
	}

	cmd.Flags().StringVar(&cc.userRef, "user", "", "User reference the holdings belong to")
	cmd.Flags().StringVar(&cc.consentHandle, "consent-handle", "", "Consent handle issued by the provider")
	cmd.Flags().StringVar(&cc.from, "from", "", "Start of the FI data range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&cc.to, "to", "", "End of the FI data range (YYYY-MM-DD)")

	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("consent-handle")

	return cmd
}
