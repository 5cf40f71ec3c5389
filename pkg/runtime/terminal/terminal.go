package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/de-tools/aaflow/pkg/runtime/app"
	"github.com/de-tools/aaflow/pkg/runtime/terminal/commands"
	"github.com/de-tools/aaflow/pkg/runtime/terminal/export"
	"github.com/de-tools/aaflow/pkg/services/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// CLI represents the command-line interface
type CLI struct {
	loader   commands.Loader
	out      io.Writer
	reporter *export.Reporter
	rootCmd  *cobra.Command

	configPath      string
	credentialsPath string
	profile         string
}

// Options contain configuration for the CLI
type Options struct {
	// Loader overrides how the command environment is built.
	Loader commands.Loader
	Output io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	cli := &CLI{
		loader:   opts.Loader,
		out:      opts.Output,
		reporter: export.NewReporter(opts.Output),
	}
	if cli.loader == nil {
		cli.loader = cli.loadApp
	}

	cli.rootCmd = cli.newRootCmd()
	return cli
}

func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

func (cli *CLI) ExecuteContext(ctx context.Context, args ...string) error {
	cli.rootCmd.SetArgs(args)
	cli.rootCmd.SetOut(cli.out)
	return cli.rootCmd.ExecuteContext(ctx)
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "aaflow",
		Short:         "Operator tool for account aggregator consent workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	home, _ := os.UserHomeDir()
	cmd.PersistentFlags().StringVarP(&cli.configPath, "config", "c", "", "Path to the service config file")
	cmd.PersistentFlags().StringVar(&cli.credentialsPath, "credentials", filepath.Join(home, ".aaflowcfg"),
		"Path to the credentials profile file")
	cmd.PersistentFlags().StringVar(&cli.profile, "profile", "", "Credentials profile (defaults to provider.profile)")

	cmd.AddCommand(commands.NewWorkflowCmd(cli.loader, cli.reporter))
	cmd.AddCommand(commands.NewStepCmd(cli.loader, cli.out))
	cmd.AddCommand(commands.NewFallbackCmd(cli.loader, cli.out))
	cmd.AddCommand(commands.NewProcessCmd(cli.loader, NewReporter(cli.out)))

	return cmd
}

func (cli *CLI) loadApp(ctx context.Context) (*commands.Env, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	ctx = logger.WithContext(ctx)

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return nil, err
	}
	profile := cli.profile
	if profile == "" {
		profile = cfg.Provider.Profile
	}
	registry, err := config.NewRegistry(cli.credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	creds, err := registry.GetCredentials(ctx, profile)
	if err != nil {
		return nil, err
	}

	a, err := app.Build(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	return &commands.Env{
		Store:    a.Store,
		DataFlow: a.DataFlow,
		Fallback: a.Dispatcher,
		Pipeline: a.Pipeline,
		Close:    a.Close,
	}, nil
}
