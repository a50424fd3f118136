package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brightfold/voicegate/internal/dotenv"
	"github.com/brightfold/voicegate/pkg/gateway/admission"
	"github.com/brightfold/voicegate/pkg/gateway/broker"
	"github.com/brightfold/voicegate/pkg/gateway/capture"
	"github.com/brightfold/voicegate/pkg/gateway/config"
	"github.com/brightfold/voicegate/pkg/gateway/convlog"
	"github.com/brightfold/voicegate/pkg/gateway/cost"
	"github.com/brightfold/voicegate/pkg/gateway/janitor"
	"github.com/brightfold/voicegate/pkg/gateway/metrics"
	gatewayserver "github.com/brightfold/voicegate/pkg/gateway/server"
	"github.com/brightfold/voicegate/pkg/gateway/store"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, databaseURL string) (*store.Postgres, error)
	migrate      func(ctx context.Context, databaseURL string) error
	newMinter    func(ctx context.Context, apiKey string) (broker.TokenMinter, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  store.NewPostgres,
		migrate:    store.Migrate,
		newMinter: func(ctx context.Context, apiKey string) (broker.TokenMinter, error) {
			return broker.NewGenAIMinter(ctx, apiKey)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.migrate == nil || deps.newMinter == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := deps.migrate(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := deps.openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	minter, err := deps.newMinter(ctx, cfg.ProviderAPIKey)
	if err != nil {
		return fmt.Errorf("init token minter: %w", err)
	}

	pricing, err := cost.LoadTable(cfg.PricingPath)
	if err != nil {
		return fmt.Errorf("load pricing: %w", err)
	}

	m := metrics.New("voicegate")

	admitter := admission.New(st, admission.Config{
		DailyCreditLimit:    cfg.DailyCreditLimit,
		LifetimeCreditLimit: cfg.LifetimeCreditLimit,
		CreditUnitSeconds:   cfg.CreditUnitSeconds,
		Grace:               cfg.AdmissionGrace,
		FailOpen:            cfg.FailOpenOnError,
	}, logger)

	credBroker := broker.New(minter, broker.Config{
		CredentialTTL: cfg.CredentialTTL,
	}, logger)

	turns := convlog.New(st, convlog.Config{
		MaxBatchSize:  cfg.MaxBatchSize,
		FlushInterval: cfg.FlushInterval,
	}, logger, m)

	router := capture.NewRouter(turns, logger, m)

	sweeper := janitor.New(st, janitor.Config{
		InactivityTimeout: cfg.InactivityTimeout,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		Interval:          cfg.JanitorInterval,
	}, logger, m)

	reporter := cost.NewStripeReporter(cfg.StripeAPIKey, "", logger)

	gw := gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Store:     st,
		Admission: admitter,
		Broker:    credBroker,
		Router:    router,
		Turns:     turns,
		Pricing:   pricing,
		Reporter:  reporter,
		Metrics:   m,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		turns.Run(workerCtx)
	}()
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		sweeper.Run(workerCtx)
	}()

	gw.SetStarted()
	logger.Info("starting gateway", "addr", cfg.Addr)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Stopping the workers triggers the logger's final flush.
	workerCancel()
	<-workersDone
	<-janitorDone

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voicegate: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicegate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
