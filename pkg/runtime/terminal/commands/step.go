package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

const (
	StepSignedConsent = "signed-consent"
	StepKeyMaterial   = "key-material"
	StepRequestData   = "request-data"
)

func steps(flow DataFlow) map[string]func(context.Context, string) error {
	return map[string]func(context.Context, string) error{
		StepSignedConsent: flow.FetchSignedConsent,
		StepKeyMaterial:   flow.GenerateKeyMaterial,
		StepRequestData:   flow.RequestFIData,
	}
}

// NewStepCmd replays one data-flow step for a workflow.
func NewStepCmd(load Loader, out io.Writer) *cobra.Command {
	names := []string{StepSignedConsent, StepKeyMaterial, StepRequestData}
	sort.Strings(names)

	return &cobra.Command{
		Use:       "step <" + strings.Join(names, "|") + "> <workflow-id>",
		Short:     "Re-run a single data-flow step",
		Args:      cobra.ExactArgs(2),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), load, func(env *Env) error {
				step, ok := steps(env.DataFlow)[args[0]]
				if !ok {
					return fmt.Errorf("unknown step %q, expected one of %s", args[0], strings.Join(names, ", "))
				}
				if err := step(cmd.Context(), args[1]); err != nil {
					return fmt.Errorf("step %s failed: %w", args[0], err)
				}
				_, err := fmt.Fprintf(out, "step %s done for workflow %s\n", args[0], args[1])
				return err
			})
		},
	}
}
