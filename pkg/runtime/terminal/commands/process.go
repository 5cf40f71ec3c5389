package commands

import (
	"fmt"
	"io"

	"github.com/de-tools/aaflow/pkg/services/fi"
	"github.com/spf13/cobra"
)

type BatchReporter interface {
	Handle(result *fi.BatchResult) error
}

// NewProcessCmd runs the decrypt and extract pipeline once, without the bus.
// A workflow already in SUCCESS is reported as skipped.
func NewProcessCmd(load Loader, reporter BatchReporter) *cobra.Command {
	return &cobra.Command{
		Use:   "process <workflow-id>",
		Short: "Fetch, decrypt and extract FI data for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), load, func(env *Env) error {
				res, err := env.Pipeline.Process(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return reporter.Handle(res)
			})
		},
	}
}

// NewFallbackCmd fires the readiness fallback by hand.
func NewFallbackCmd(load Loader, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "fallback <workflow-id>",
		Short: "Publish a readiness event for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), load, func(env *Env) error {
				if err := env.Fallback.OnFallbackTimer(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "readiness event published for workflow %s\n", args[0])
				return err
			})
		},
	}
}
