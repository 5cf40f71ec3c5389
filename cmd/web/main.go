package main

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/de-tools/aaflow/pkg/runtime/app"
	"github.com/de-tools/aaflow/pkg/services/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	credsPath string
	profile   string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the aaflow webhook server and FI data consumer",
		RunE:  runServer,
	}

	usr, _ := user.Current()
	defaultCreds := fmt.Sprintf("%s/.aaflowcfg", usr.HomeDir)

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to the service config file")
	rootCmd.Flags().StringVar(&credsPath, "credentials", defaultCreds,
		"Path to the credentials profile file (default is $HOME/.aaflowcfg)")
	rootCmd.Flags().StringVar(&profile, "profile", "", "Credentials profile (defaults to provider.profile)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx, cancel := context.WithCancel(logger.WithContext(cmd.Context()))
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if profile == "" {
		profile = cfg.Provider.Profile
	}

	registry, err := config.NewRegistry(credsPath)
	if err != nil {
		return fmt.Errorf("failed to create credentials registry: %w", err)
	}
	creds, err := registry.GetCredentials(ctx, profile)
	if err != nil {
		return err
	}
	logger.Info().Msgf("Credentials profile `%s` loaded from `%s`.", profile, credsPath)

	a, err := app.Build(ctx, cfg, creds)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to release resources")
		}
	}()

	if err := a.Controller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workflow controller: %w", err)
	}
	defer func() { _ = a.Controller.Stop(ctx) }()

	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("bus", cfg.Bus.Driver).
		Str("scheduler", cfg.Scheduler.Driver).
		Msg("workflow controller started")

	return a.WebAPI(logger).Start(ctx)
}
