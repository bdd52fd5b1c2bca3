package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"teamledger.io/internal/authn"
	"teamledger.io/internal/books"
	"teamledger.io/internal/cache"
	"teamledger.io/internal/config"
	"teamledger.io/internal/httpapi"
	"teamledger.io/internal/migrate"
	"teamledger.io/internal/obs"
	"teamledger.io/internal/store/pg"
	"teamledger.io/internal/tenancy"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("TEAMLEDGER_CONFIG"), "path to a yaml/toml config file")
	memory := flag.Bool("memory", false, "use the in-memory store (development only)")
	autoMigrate := flag.Bool("migrate", false, "apply pending migrations and seed the catalog on start")
	flag.Parse()

	if err := run(*configPath, *memory, *autoMigrate); err != nil {
		fmt.Fprintf(os.Stderr, "teamledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, memory, autoMigrate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := obs.NewLogger(cfg.LogSettings())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store     tenancy.Store
		ledger    books.Store
		readiness httpapi.ReadinessCheck
		storeKind = "postgres"
	)
	if memory {
		storeKind = "memory"
		logger.Warn("using in-memory store; data is lost on exit")
		store = tenancy.NewMemoryStore()
		ledger = books.NewMemoryStore()
	} else {
		if err := cfg.ValidateDatabase(); err != nil {
			return err
		}
		pgStore, err := pg.Open(cfg.Database.DSN, pg.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
		ledger = pgStore.Books()
		readiness.DB = pgStore.DB()
		if autoMigrate {
			applied, err := migrate.NewManager(pgStore.DB()).Up(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Strings("names", applied))
		}
	}

	cacheCfg := cfg.CacheSettings()
	permCache, err := cache.New(cacheCfg)
	if err != nil {
		return err
	}
	cacheKind := cacheCfg.Mode
	if cacheKind == "" {
		cacheKind = cache.ModeNone
	}
	build := obs.RecordBuildInfo(obs.BuildInfo{Version: version, Commit: commit, Store: storeKind, Cache: cacheKind})
	logger.Info("build", zap.String("version", build.Version), zap.String("commit", build.Commit),
		zap.String("go_version", build.GoVersion), zap.String("store", build.Store), zap.String("cache", build.Cache))
	if c, ok := permCache.(io.Closer); ok {
		defer c.Close()
	}
	if p, ok := permCache.(httpapi.Pinger); ok {
		readiness.Cache = p
	}

	svc, err := tenancy.NewService(store,
		tenancy.WithCache(permCache),
		tenancy.WithLogger(logger),
		tenancy.WithInvitationTTL(cfg.Invitations.TTL),
	)
	if err != nil {
		return err
	}
	bookSvc, err := books.NewService(ledger, svc, books.WithLogger(logger))
	if err != nil {
		return err
	}
	if memory || autoMigrate {
		if err := svc.Seed(ctx); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		if err := bookSvc.Seed(ctx); err != nil {
			return fmt.Errorf("seed account catalog: %w", err)
		}
	}

	tokens, err := authn.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}
	api := httpapi.New(svc, tokens, httpapi.Options{
		Version:        version,
		Ready:          readiness,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateBurst:      cfg.Rate.Burst,
		RatePerSecond:  cfg.Rate.PerSecond,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: proxies,
		Logger:         logger,
		Books:          bookSvc,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(readiness)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go health.Watch(ctx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	logger.Info("shutting down")
	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	logger.Info("stopped")
	return nil
}
