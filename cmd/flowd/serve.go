package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health"

	"github.com/alfredjeanlab/flowd/internal/archive"
	"github.com/alfredjeanlab/flowd/internal/config"
	"github.com/alfredjeanlab/flowd/internal/engine"
	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/gate"
	"github.com/alfredjeanlab/flowd/internal/server"
	"github.com/alfredjeanlab/flowd/internal/store"
	"github.com/alfredjeanlab/flowd/internal/store/memory"
	"github.com/alfredjeanlab/flowd/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the flowd server",
	GroupID: "system",
	// The server does not need an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		// Resources opened so far, released in reverse if startup fails.
		var opened []func() error
		fail := func(err error) error {
			for i := len(opened) - 1; i >= 0; i-- {
				_ = opened[i]()
			}
			return err
		}
		opened = append(opened, st.Close)

		// Event bus: an external broker, an embedded one, or none.
		var broker *events.EmbeddedBroker
		natsURL := cfg.NATSURL
		if natsURL == "" && cfg.NATSEmbed {
			broker, err = events.StartEmbeddedBroker("127.0.0.1")
			if err != nil {
				return fail(err)
			}
			opened = append(opened, broker.Close)
			natsURL = broker.URL()
			logger.Info("embedded NATS broker started", "url", natsURL)
		}

		hub := server.NewSSEHub()
		publishers := []events.Publisher{hub}
		var subscriber events.Subscriber
		if natsURL != "" {
			pub, err := events.NewNATSPublisher(natsURL)
			if err != nil {
				return fail(err)
			}
			opened = append(opened, pub.Close)
			publishers = append(publishers, pub)
			sub, err := events.NewNATSSubscriber(natsURL)
			if err != nil {
				return fail(err)
			}
			opened = append(opened, sub.Close)
			subscriber = sub
			logger.Info("events enabled", "nats_url", natsURL)
		} else {
			logger.Info("broker disabled, subscribe adapters will fail to initialize")
		}
		publisher := events.NewMultiPublisher(publishers...)

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		hs := health.NewServer()
		router := server.NewDynamicRouter()
		rt := engine.NewRuntime(engine.Options{
			Store:      st,
			Gate:       gate.New(),
			Router:     router,
			Subscriber: subscriber,
			Publisher:  publisher,
			Metrics:    engine.NewMetrics(reg),
			Listener:   server.NewAdapterHealth(hs),
			Logger:     logger,
			Limits: engine.Limits{
				DefaultPageSize:     cfg.DefaultPageSize,
				MaxPageSize:         cfg.MaxPageSize,
				MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
				DispatchTimeout:     cfg.DispatchTimeout,
			},
		})
		manager := engine.NewManager(rt, st)
		srv := server.New(server.Options{
			Store:     st,
			Manager:   manager,
			Router:    router,
			Hub:       hub,
			Publisher: publisher,
			Gatherer:  reg,
		})

		grpcServer := server.NewGRPCServer(hs, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fail(err)
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		archiver := startArchiver(cfg, st, logger)

		logger.Info("flowd server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		hs.Shutdown()

		if archiver != nil {
			archiver.Stop()
			logger.Info("archiver stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.TeardownAll(shutdownCtx); err != nil {
			logger.Error("tearing down graphs", "err", err)
		}
		logger.Info("adapters torn down")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		// Open event streams would otherwise hold Shutdown until its deadline.
		hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if subscriber != nil {
			if err := subscriber.Close(); err != nil {
				logger.Error("error closing subscriber", "err", err)
			}
		}
		if broker != nil {
			broker.Close()
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("FLOWD_LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("FLOWD_DATABASE_URL not set, using the in-memory store")
		return memory.New(), nil
	}
	st, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")
	return st, nil
}

// startArchiver starts periodic flow event exports when an interval and at
// least one destination are configured. It returns nil otherwise.
func startArchiver(cfg *config.Config, st store.Store, logger *slog.Logger) *archive.Archiver {
	if cfg.ArchiveInterval <= 0 {
		return nil
	}
	var dests []archive.Destination
	if cfg.ArchiveS3Bucket != "" {
		s3Dest, err := archive.NewS3Destination(context.Background(), archive.S3Options{
			Bucket:   cfg.ArchiveS3Bucket,
			Key:      cfg.ArchiveS3Key,
			Region:   cfg.ArchiveS3Region,
			Endpoint: cfg.ArchiveS3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "key", cfg.ArchiveS3Key)
		}
	}
	if cfg.ArchiveGitRepo != "" {
		dests = append(dests, archive.NewGitDestination(cfg.ArchiveGitRepo, cfg.ArchiveGitFile, cfg.ArchiveGitBranch))
		logger.Info("archive git destination enabled", "repo", cfg.ArchiveGitRepo, "file", cfg.ArchiveGitFile)
	}
	if len(dests) == 0 {
		return nil
	}
	a := archive.New(st, dests, cfg.ArchiveInterval, logger)
	a.Start()
	logger.Info("archiver started", "interval", cfg.ArchiveInterval)
	return a
}
