// Command sk-server starts the session issuer gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	v1 "github.com/shopease/sessionkeeper/internal/api/sessionv1"
	"github.com/shopease/sessionkeeper/internal/config"
	"github.com/shopease/sessionkeeper/internal/identity"
	"github.com/shopease/sessionkeeper/internal/limiter"
	"github.com/shopease/sessionkeeper/internal/logging"
	"github.com/shopease/sessionkeeper/internal/metrics"
	"github.com/shopease/sessionkeeper/internal/migrate"
	"github.com/shopease/sessionkeeper/internal/model"
	"github.com/shopease/sessionkeeper/internal/repository/postgres"
	grpcserver "github.com/shopease/sessionkeeper/internal/server/grpc"
	"github.com/shopease/sessionkeeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// loadConfig reads -config first, then lets explicitly set flags override file values.
func loadConfig() (*config.Server, error) {
	def := config.DefaultServer()

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	path := fs.String("config", "", "YAML config file")
	addr := fs.String("addr", def.Addr, "listen address")
	dsn := fs.String("dsn", def.DSN, "PostgreSQL DSN")
	jwtKey := fs.String("jwt-key", "", "HS256 signing key (required)")
	refreshTTL := fs.Duration("refresh-ttl", def.RefreshTTL, "refresh token TTL")
	certFile := fs.String("tls-cert", def.TLS.Cert, "TLS certificate (PEM)")
	keyFile := fs.String("tls-key", def.TLS.Key, "TLS private key (PEM)")
	metricsAddr := fs.String("metrics-addr", def.MetricsAddr, "Prometheus listen address, empty disables")
	dev := fs.Bool("dev", false, "enable server reflection and console logs (dev only)")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadServer(*path)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "dsn":
			cfg.DSN = *dsn
		case "jwt-key":
			cfg.JWTKey = *jwtKey
		case "refresh-ttl":
			cfg.RefreshTTL = *refreshTTL
		case "tls-cert":
			cfg.TLS.Cert = *certFile
		case "tls-key":
			cfg.TLS.Key = *keyFile
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "dev":
			cfg.Dev = *dev
		}
	})
	if cfg.Dev {
		cfg.Log.Development = true
	}
	return cfg, cfg.Validate()
}

// verifiers builds an OIDC verifier for every provider with a client id.
func verifiers(ctx context.Context, cfg config.IdentityConfig, logger *zap.Logger) []service.Option {
	var opts []service.Option
	for method, p := range map[model.AuthMethod]config.ProviderConfig{
		model.MethodApple:  cfg.Apple,
		model.MethodGoogle: cfg.Google,
	} {
		if p.ClientID == "" {
			logger.Warn("id token verification disabled", zap.String("method", string(method)))
			continue
		}
		v, err := identity.Discover(ctx, p.Issuer, p.ClientID)
		if err != nil {
			logger.Fatal("oidc discovery", zap.String("method", string(method)), zap.Error(err))
		}
		opts = append(opts, service.WithVerifier(method, v))
	}
	return opts
}

// sweepLimiter prunes idle limiter rows once per window until ctx is done.
func sweepLimiter(ctx context.Context, lim *limiter.PG, every time.Duration, logger *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := lim.Sweep(ctx)
			if err != nil {
				logger.Warn("sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("sweep", zap.Int64("removed", n))
			}
		}
	}
}

// watchDB reports NOT_SERVING on the health service while the database is unreachable.
func watchDB(ctx context.Context, db *postgres.DB, hs *health.Server, every time.Duration, logger *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := db.Check(ctx, 2*time.Second)
		switch {
		case err != nil && serving:
			logger.Warn("database unreachable", zap.Error(err))
			hs.SetServingStatus(v1.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			logger.Info("database reachable again")
			hs.SetServingStatus(v1.ServiceName, healthpb.HealthCheckResponse_SERVING)
			serving = true
		}
	}
}

// main parses configuration, runs migrations, and starts a TLS-enabled gRPC server.
func main() {
	cfg, err := loadConfig()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
	if err != nil {
		logger.Fatal("failed to load TLS cert/key", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN, 0)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	accounts := postgres.NewAccountRepo(db)
	tokens := postgres.NewTokenRepo(db)
	lim := limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)

	go sweepLimiter(ctx, lim, cfg.Limiter.Window, logger.Named("limiter"))

	m := metrics.New()

	// Services
	opts := append([]service.Option{
		service.WithRefreshTTL(cfg.RefreshTTL),
		service.WithMetrics(m),
		service.WithLogger(logger.Named("sessions")),
	}, verifiers(ctx, cfg.Identity, logger)...)
	sessions := service.NewSessionService(accounts, tokens, lim, []byte(cfg.JWTKey), opts...)

	// gRPC server with interceptors
	s := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.MetricsUnary(m),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary([]byte(cfg.JWTKey), v1.MethodProfile),
		),
	)
	v1.RegisterSessionIssuerServer(s, grpcserver.New(sessions, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(v1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	go watchDB(ctx, db, hs, 15*time.Second, logger.Named("health"))
	if cfg.Dev {
		reflection.Register(s)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening (TLS)", zap.String("addr", cfg.Addr))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		// graceful shutdown
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = metricsSrv.Shutdown(sctx)
			cancel()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
