// Package app assembles the service from its configuration.
package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"

	"github.com/de-tools/aaflow/pkg/bus"
	"github.com/de-tools/aaflow/pkg/handlers/webhook"
	"github.com/de-tools/aaflow/pkg/lock"
	"github.com/de-tools/aaflow/pkg/metrics"
	"github.com/de-tools/aaflow/pkg/providers"
	"github.com/de-tools/aaflow/pkg/providers/rahasya"
	"github.com/de-tools/aaflow/pkg/providers/setu"
	"github.com/de-tools/aaflow/pkg/scheduler"
	"github.com/de-tools/aaflow/pkg/server"
	"github.com/de-tools/aaflow/pkg/services/config"
	"github.com/de-tools/aaflow/pkg/services/consent"
	"github.com/de-tools/aaflow/pkg/services/dataflow"
	"github.com/de-tools/aaflow/pkg/services/fi"
	"github.com/de-tools/aaflow/pkg/services/readiness"
	"github.com/de-tools/aaflow/pkg/services/workflow"
	"github.com/de-tools/aaflow/pkg/signature"
	"github.com/de-tools/aaflow/pkg/store/memory"
	"github.com/de-tools/aaflow/pkg/store/postgres"
	pgworkflow "github.com/de-tools/aaflow/pkg/store/postgres/workflow"
	s3sink "github.com/de-tools/aaflow/pkg/store/s3"
	wfstore "github.com/de-tools/aaflow/pkg/store/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var openPostgres = postgres.NewDB

type App struct {
	Config *config.Config

	Store      wfstore.Store
	Bus        bus.Bus
	Queue      scheduler.Queue
	Locker     lock.Locker
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	DataFlow   *dataflow.Stage
	Consent    *consent.Stage
	Dispatcher *readiness.Dispatcher
	Pipeline   *fi.Pipeline
	Controller *workflow.DefaultController

	// providerKey is set when server.verify_signatures is on.
	providerKey *rsa.PublicKey
	closers     []func() error
}

// Build wires every component. Only the drivers named in cfg are dialed.
func Build(ctx context.Context, cfg *config.Config, creds *config.Credentials) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx, creds); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, creds *config.Credentials) error {
	logger := zerolog.Ctx(ctx)
	cfg := a.Config

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(a.Registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.Metrics = m

	keyPEM, err := creds.SigningKey()
	if err != nil {
		return err
	}
	signer, err := signature.NewSigner(keyPEM)
	if err != nil {
		return err
	}

	if cfg.Server.VerifySignatures {
		pubPEM, err := creds.ProviderPublicKey()
		if err != nil {
			return err
		}
		if a.providerKey, err = signature.ParsePublicKey(pubPEM); err != nil {
			return err
		}
	}

	opts := providers.DefaultOptions()
	opts.Timeout = cfg.Provider.Timeout
	opts.RetryMax = cfg.Provider.RetryMax
	opts.Logger = logger.With().Str("component", "providers").Logger()
	transport := providers.NewTransport(opts)

	setuClient, err := setu.NewClient(setu.Config{BaseURL: creds.SetuBaseURL, ClientAPIKey: creds.ClientAPIKey}, transport, signer)
	if err != nil {
		return err
	}
	rahasyaClient, err := rahasya.NewClient(rahasya.Config{BaseURL: creds.RahasyaBaseURL, ClientAPIKey: creds.ClientAPIKey}, transport, signer)
	if err != nil {
		return err
	}

	if err := a.buildStore(ctx); err != nil {
		return err
	}
	if err := a.buildBus(); err != nil {
		return err
	}
	a.buildScheduling()

	rawSink, err := a.buildRawSink(ctx)
	if err != nil {
		return err
	}

	a.DataFlow = dataflow.NewStage(a.Store, setuClient, rahasyaClient, a.Metrics)
	a.Consent = consent.NewStage(a.Store, a.DataFlow, a.Queue, consent.Config{FallbackDelay: cfg.Scheduler.Delay})
	a.Dispatcher = readiness.NewDispatcher(a.Store, a.Bus, a.Metrics)
	a.Pipeline = fi.NewPipeline(a.Store, setuClient, rahasyaClient, rawSink, a.Locker, a.Metrics, fi.Config{
		LockTTL:           cfg.Lock.TTL,
		LockWait:          cfg.Lock.Wait,
		LockRetryInterval: cfg.Lock.RetryInterval,
	})

	runner := scheduler.NewRunner(a.Queue, a.Dispatcher.OnFallbackTimer, scheduler.RunnerConfig{
		PollInterval: cfg.Scheduler.PollInterval,
	})
	a.Controller = workflow.NewController(a.Bus, a.Pipeline, map[string]workflow.Loop{
		workflow.LoopFallback: runner,
	})

	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("bus", cfg.Bus.Driver).
		Str("scheduler", cfg.Scheduler.Driver).
		Str("raw_extract", cfg.RawExtract.Driver).
		Msg("application assembled")
	return nil
}

func (a *App) buildStore(ctx context.Context) error {
	if a.Config.Store.Driver != config.DriverPostgres {
		a.Store = memory.NewStore()
		return nil
	}

	// openPostgres also applies the boot migrations.
	db, err := openPostgres(ctx, postgres.Settings{DSN: a.Config.Store.DSN})
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	store, err := pgworkflow.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create workflow store: %w", err)
	}
	a.Store = store
	return nil
}

func (a *App) buildBus() error {
	cfg := a.Config.Bus
	if cfg.Driver != config.DriverNATS {
		a.Bus = bus.NewMemoryBus()
		return nil
	}

	nb, err := bus.NewNATSBus(bus.NATSConfig{
		URL:        cfg.URL,
		Subject:    cfg.Subject,
		QueueGroup: cfg.QueueGroup,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, nb.Close)
	a.Bus = nb
	return nil
}

func (a *App) buildScheduling() {
	cfg := a.Config.Scheduler
	if cfg.Driver != config.DriverRedis {
		a.Queue = scheduler.NewMemoryQueue()
		a.Locker = lock.NewMemoryLocker()
		return
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	a.Queue = scheduler.NewRedisQueue(client, cfg.Queue)
	a.Locker = lock.NewRedisLocker(client, cfg.Queue+":lock:")
}

func (a *App) buildRawSink(ctx context.Context) (wfstore.RawExtractSink, error) {
	cfg := a.Config.RawExtract
	if cfg.Driver != config.DriverS3 {
		return a.Store, nil
	}
	sink, err := s3sink.NewSink(ctx, s3sink.Config{
		Bucket:   cfg.Bucket,
		Region:   cfg.Region,
		Endpoint: cfg.Endpoint,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// WebAPI returns the HTTP front end bound to this application's stages.
func (a *App) WebAPI(logger zerolog.Logger) *server.WebAPI {
	handler := webhook.NewHandler(a.Consent, a.DataFlow, a.Dispatcher, a.Metrics)
	if a.providerKey != nil {
		handler = handler.WithSignatureCheck(a.providerKey)
	}
	return server.NewWebAPI(logger, server.Config{
		Addr:            net.JoinHostPort(a.Config.Server.Host, a.Config.Server.Port),
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		Dependencies: server.Dependencies{
			Handler:  handler,
			Gatherer: a.Registry,
		},
	})
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
