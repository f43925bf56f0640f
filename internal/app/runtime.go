package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/reflection"

	"github.com/example/business-ledger/internal/api"
	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/config"
	"github.com/example/business-ledger/internal/grpcapi"
	"github.com/example/business-ledger/internal/ledger"
	"github.com/example/business-ledger/internal/security"
	"github.com/example/business-ledger/internal/webhook"
	"github.com/example/business-ledger/pkg/audit"
)

const shutdownTimeout = 10 * time.Second

// Runtime owns every long-running component of ledgerd.
type Runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	storage    *Storage
	dispatcher *webhook.Dispatcher
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	tls        *tls.Config
	closers    []func()
}

// NewRuntime opens storage, migrates it and wires the components. Call Close
// when Run returns.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, logger: logger}

	storage, err := OpenStorage(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rt.storage = storage
	rt.closers = append(rt.closers, storage.Close)

	if err := storage.Migrate(ctx, logger); err != nil {
		rt.Close()
		return nil, err
	}

	tlsCfg := security.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile}
	if tlsCfg.Enabled() {
		rt.tls, err = security.LoadServerTLSConfig(tlsCfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	auditor, err := rt.openAuditLog()
	if err != nil {
		rt.Close()
		return nil, err
	}

	hookOpts := []webhook.Option{
		webhook.WithLogger(logger),
		webhook.WithHTTPClient(&http.Client{Timeout: cfg.Webhook.Timeout}),
	}
	notifier := webhook.NewNotifier(storage.Webhooks, hookOpts...)
	rt.dispatcher = webhook.NewDispatcher(storage.Webhooks, storage.Ledger, notifier, webhook.DispatcherConfig{
		Workers:             cfg.Webhook.Workers,
		PerOwnerConcurrency: cfg.Webhook.PerOwnerConcurrency,
		MaxAttempts:         cfg.Webhook.MaxAttempts,
		BackoffBase:         cfg.Webhook.BackoffBase,
		BackoffMax:          cfg.Webhook.BackoffMax,
		PollInterval:        cfg.Webhook.PollInterval,
		Lease:               cfg.Webhook.Lease,
	}, hookOpts...)

	engine := ledger.NewEngine(storage.Ledger,
		ledger.WithLogger(logger),
		ledger.WithCommitHook(func(*ledger.Transaction) { rt.dispatcher.Wake() }),
	)
	authenticator := &auth.Authenticator{Store: storage.Keys}

	router := api.NewRouter(api.Dependencies{
		Logger:        logger,
		Authenticator: authenticator,
		Ledger:        engine,
		Webhooks:      webhook.NewRegistry(storage.Webhooks, hookOpts...),
		Auditor:       auditor,
		RateLimiter:   rt.rateLimiter(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	})
	rt.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         rt.tls,
	}

	if cfg.GRPC.Addr != "" {
		rt.grpcServer, rt.health = grpcapi.New(grpcapi.Config{
			Ledger:        engine,
			Authenticator: authenticator,
			Logger:        logger,
			TLS:           rt.tls,
		})
		if !cfg.IsProduction() {
			reflection.Register(rt.grpcServer)
		}
	}

	return rt, nil
}

func (rt *Runtime) openAuditLog() (*audit.ChainLogger, error) {
	opts := []audit.Option{audit.WithLogger(rt.logger)}
	if path := rt.cfg.AuditLogFile; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = f.Close() })
		opts = append(opts, audit.WithSink(f))
	} else {
		opts = append(opts, audit.WithSink(io.Discard))
	}
	return audit.NewChainLogger(opts...), nil
}

func (rt *Runtime) rateLimiter() *security.RedisTokenBucket {
	if rt.cfg.Redis.Addr == "" {
		rt.logger.Warn("REDIS_ADDR not set; rate limiting disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: rt.cfg.Redis.Addr})
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	return &security.RedisTokenBucket{
		Redis:      client,
		Prefix:     "ledger_api",
		Capacity:   rt.cfg.Redis.RateLimitCapacity,
		RefillRate: rt.cfg.Redis.RateLimitRefillPerSec,
	}
}

// Run serves HTTP and gRPC and drains the webhook outbox until ctx is done
// or one of them fails, then shuts everything down.
func (rt *Runtime) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", rt.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", rt.cfg.HTTP.Addr, err)
	}
	var grpcLis net.Listener
	if rt.grpcServer != nil {
		grpcLis, err = net.Listen("tcp", rt.cfg.GRPC.Addr)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", rt.cfg.GRPC.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.logger.Info("http server listening", "addr", httpLis.Addr().String(), "tls", rt.tls != nil)
		var err error
		if rt.tls != nil {
			err = rt.httpServer.ServeTLS(httpLis, "", "")
		} else {
			err = rt.httpServer.Serve(httpLis)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		g.Go(func() error {
			rt.logger.Info("grpc server listening", "addr", grpcLis.Addr().String())
			if err := rt.grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return rt.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		rt.logger.Info("shutting down")

		if rt.health != nil {
			rt.health.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.httpServer.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("http shutdown", "error", err)
		}
		if rt.grpcServer != nil {
			rt.grpcServer.GracefulStop()
		}
		return nil
	})

	return g.Wait()
}

// Close releases storage and client connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

