package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jwgray1010/Unsaid-sub003/internal/api"
	"github.com/jwgray1010/Unsaid-sub003/internal/auth"
	"github.com/jwgray1010/Unsaid-sub003/internal/chread"
	"github.com/jwgray1010/Unsaid-sub003/internal/config"
	"github.com/jwgray1010/Unsaid-sub003/internal/consumer"
	"github.com/jwgray1010/Unsaid-sub003/internal/coordinator"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine/tables"
	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/pipeline"
	"github.com/jwgray1010/Unsaid-sub003/internal/server"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
)

func main() {
	// Config
	cfg, err := config.Load(envOrDefault("TONE_CONFIG", ""))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Logger
	logger := mustBuildLogger(cfg.Logging)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting tone server",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Int("queue_capacity", cfg.Queue.Capacity),
		zap.Int("cap_multiplier", cfg.Queue.CapMultiplier),
		zap.Duration("flush_timeout", cfg.Queue.FlushTimeout.Std()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	// Shared store
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		PostgresDSN: cfg.Store.PostgresDSN,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open shared store", zap.Error(err))
	}

	// Classifier, optionally hot-reloaded from a table file
	classifier := mustBuildClassifier(cfg.Classifier, logger)
	if cfg.Classifier.Watch {
		watcher, err := tables.NewWatcher(cfg.Classifier.TablePath, classifier, cfg.Classifier.Apply, logger)
		if err != nil {
			logger.Fatal("failed to watch table file", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = watcher.Run(ctx)
		}()
		logger.Info("watching classifier table", zap.String("path", cfg.Classifier.TablePath))
	}

	// Producer side: coordinator + pipeline
	coord := coordinator.New(st, coordinator.Config{
		QueueCapacity: cfg.Queue.Capacity,
		CapMultiplier: cfg.Queue.CapMultiplier,
		FlushTimeout:  cfg.Queue.FlushTimeout.Std(),
	}, logger)
	pipe := pipeline.New(classifier, coord, "server", logger)

	// Consumer side
	gw := gateway.New(st, logger)

	var authenticator auth.Authenticator
	if cfg.Server.InternalKeyHash != "" {
		ka, err := auth.NewKeyAuthenticator(auth.KeyAuthConfig{
			Hash:     cfg.Server.InternalKeyHash,
			CacheTTL: cfg.Server.AuthCacheTTL.Std(),
			Logger:   logger,
		})
		if err != nil {
			logger.Fatal("invalid internal key hash", zap.Error(err))
		}
		authenticator = ka
	} else {
		logger.Warn("no TONE_INTERNAL_KEY_HASH set, gateway is unauthenticated")
	}

	// Sink: ClickHouse or LogSink fallback
	var sink storage.Sink
	var reader *chread.Reader
	if dsn := cfg.Consumer.ClickHouseDSN; dsn != "" {
		chSink, err := storage.NewClickHouseSink(ctx, dsn, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log sink", zap.Error(err))
			sink = storage.NewLogSink(logger)
		} else {
			sink = chSink
			logger.Info("clickhouse sink connected")
		}

		reader, err = chread.NewReader(dsn, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		}
	} else {
		sink = storage.NewLogSink(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log sink")
	}

	var cons *consumer.Consumer
	if cfg.Consumer.Enabled {
		watchPath := ""
		if cfg.Store.Driver != config.DriverPostgres {
			watchPath = cfg.Store.Path
		}
		cons = consumer.New(gw, sink, consumer.Config{
			WatchPath: watchPath,
			Interval:  cfg.Consumer.Interval.Std(),
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cons.Run(ctx); err != nil {
				logger.Error("consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP API
	deps := &api.Dependencies{
		Pipeline: pipe,
		Gateway:  gw,
		Auth:     authenticator,
		Logger:   logger,
	}
	if reader != nil {
		deps.Reader = reader
	}
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC gateway
	grpcSrv := server.NewGRPCServer(server.Options{
		Service:       gw,
		Authenticator: authenticator,
		Logger:        logger,
	})
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.GRPC.Serve(lis); err != nil {
			logger.Fatal("grpc server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown: stop intake, flush queues, drain once more, close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	var errs error
	errs = multierr.Append(errs, httpServer.Shutdown(shutdownCtx))
	grpcSrv.Shutdown()
	errs = multierr.Append(errs, coord.Close(shutdownCtx))

	cancel()
	wg.Wait()
	if cons != nil {
		if _, err := cons.Drain(shutdownCtx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	errs = multierr.Append(errs, sink.Close())
	if reader != nil {
		errs = multierr.Append(errs, reader.Close())
	}
	errs = multierr.Append(errs, st.Close())
	if errs != nil {
		logger.Error("shutdown completed with errors", zap.Error(errs))
	}

	logger.Info("tone server stopped", zap.Any("coordinator", coord.Stats()))
}

func mustBuildClassifier(cfg config.ClassifierConfig, logger *zap.Logger) *engine.Classifier {
	t := tables.Builtin()
	if cfg.TablePath != "" {
		loaded, err := tables.Load(cfg.TablePath)
		if err != nil {
			logger.Fatal("failed to load classifier table", zap.String("path", cfg.TablePath), zap.Error(err))
		}
		t = loaded
	}
	cfg.Apply(t)
	c, err := engine.NewClassifier(t)
	if err != nil {
		logger.Fatal("invalid classifier table", zap.Error(err))
	}
	logger.Info("classifier ready", zap.String("table_version", c.Version()))
	return c
}

func mustBuildLogger(cfg config.LoggingConfig) *zap.Logger {
	logger, err := config.NewLogger(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
