package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearth/points-ledger/api"
	"github.com/hearth/points-ledger/backend"
	"github.com/hearth/points-ledger/config"
	"github.com/hearth/points-ledger/ledger"
	"github.com/hearth/points-ledger/logging"
	"github.com/hearth/points-ledger/metrics"
	"github.com/hearth/points-ledger/store/file"
	"github.com/hearth/points-ledger/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long in-flight requests may take on exit.
const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API and serve the frontend.

On SIGINT/SIGTERM the server stops accepting connections, waits for active
requests (30s at most) and closes the storage backends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	defer log.Sync()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Storage
	sel, err := backend.Build(cfg.Storage, log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := sel.Close(); err != nil {
			log.Warn("close backends", zap.Error(err))
		}
	}()

	l, err := newLedger(cfg, sel)
	if err != nil {
		return err
	}

	if sched := newReconcileScheduler(cfg.Storage.File, sel, log); sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	uploads, err := newUploader(cfg.Upload)
	if err != nil {
		return err
	}

	// HTTP
	routerCfg := api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:            log,
	}
	if cfg.Upload.Driver == config.UploadLocal {
		routerCfg.UploadDir = cfg.Upload.Dir
		routerCfg.UploadURLPrefix = cfg.Upload.URLPrefix
	}
	router := api.NewRouter(api.NewHandler(l, uploads, log), routerCfg)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.Int64("opening_balance", cfg.Ledger.OpeningBalance),
			zap.Strings("backends", l.Backends()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func newLedger(cfg *config.Config, sel *ledger.Selector) (*ledger.Ledger, error) {
	ids, err := ledger.NewSnowflakeIDs(cfg.Ledger.NodeID)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}
	return ledger.New(sel,
		ledger.WithOpeningBalance(cfg.Ledger.OpeningBalance),
		ledger.WithIDGenerator(ids),
	), nil
}

func newUploader(cfg config.Upload) (upload.Uploader, error) {
	switch cfg.Driver {
	case config.UploadOSS:
		return upload.NewOSS(upload.OSSConfig{
			Endpoint:      cfg.OSS.Endpoint,
			Region:        cfg.OSS.Region,
			Bucket:        cfg.OSS.Bucket,
			PublicBaseURL: cfg.OSS.PublicBaseURL,
			KeyPrefix:     cfg.OSS.KeyPrefix,
		})
	default:
		return upload.NewLocal(cfg.Dir, cfg.URLPrefix)
	}
}

// newReconcileScheduler returns nil when the chain has no file store or
// the interval is zero.
func newReconcileScheduler(cfg config.File, sel *ledger.Selector, log *zap.Logger) *api.ReconcileScheduler {
	if cfg.ReconcileInterval <= 0 {
		return nil
	}
	for _, b := range sel.Backends() {
		if fs, ok := b.(*file.Store); ok {
			sched := api.NewReconcileScheduler(fs, log.Named("reconcile"))
			sched.Interval = cfg.ReconcileInterval
			return sched
		}
	}
	return nil
}
