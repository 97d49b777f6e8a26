package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/and161185/idcore/internal/config"
	"github.com/and161185/idcore/internal/events"
	"github.com/and161185/idcore/internal/limiter"
	"github.com/and161185/idcore/internal/metrics"
	"github.com/and161185/idcore/internal/migrate"
	"github.com/and161185/idcore/internal/oauth"
	"github.com/and161185/idcore/internal/repository"
	"github.com/and161185/idcore/internal/repository/postgres"
	redisrepo "github.com/and161185/idcore/internal/repository/redis"
	grpcserver "github.com/and161185/idcore/internal/server/grpc"
	httpserver "github.com/and161185/idcore/internal/server/http"
	"github.com/and161185/idcore/internal/service"
	"github.com/and161185/idcore/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
		zap.String("challenge_backend", cfg.Challenge.Backend),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.Database.DSN); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if rdb, err = redisrepo.NewClient(ctx, cfg.Redis.URL); err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	a, err := buildApp(cfg, logger, db, rdb)
	if err != nil {
		return err
	}
	return a.run(ctx, cfg)
}

// app holds the wired components of a running server.
type app struct {
	log        *zap.Logger
	http       *httpserver.Server
	grpc       *grpc.Server
	dispatcher *events.Dispatcher
	sweepers   []service.Sweeper
	sweepEvery time.Duration
}

func buildApp(cfg config.Config, log *zap.Logger, db *postgres.DB, rdb *redis.Client) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterMetrics(reg)

	var challengeRepo repository.ChallengeRepository
	switch cfg.Challenge.Backend {
	case "redis":
		challengeRepo = redisrepo.NewChallengeRepo(rdb, cfg.Challenge.TTL)
	default:
		challengeRepo = postgres.NewChallengeRepo(db)
	}
	accounts := postgres.NewAccountRepo(db)

	challenges := service.NewChallengeStore(challengeRepo, cfg.Challenge.TTL, cfg.Storage.Timeout, log)
	emails := service.NewEmailTokens(postgres.NewEmailTokenRepo(db), cfg.Email.TokenTTL, cfg.Storage.Timeout)

	keys, err := session.NewKeyring([]byte(cfg.Session.Secret))
	if err != nil {
		return nil, err
	}
	sessions := session.NewIssuer(keys, cfg.Session.TTL, accounts)

	sinks := []events.Sink{events.LogSink{Log: log}}
	if cfg.Events.RedisStream != "" {
		sinks = append(sinks, events.NewRedisStreamSink(rdb, cfg.Events.RedisStream, 10000))
	}
	dispatcher := events.NewDispatcher(log, cfg.Events.QueueSize, sinks...)
	dispatcher.OnDrop(metrics.EventsDropped.Inc)

	auth := service.NewAuthService(service.AuthDeps{
		Challenges:     challenges,
		Emails:         emails,
		Mailer:         service.LogMailer{Log: log},
		Accounts:       accounts,
		Sessions:       sessions,
		Limiter:        limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor),
		Events:         dispatcher,
		Log:            log,
		EmailBaseURL:   cfg.Email.BaseURL,
		StorageTimeout: cfg.Storage.Timeout,
	})

	health := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}

	providers := oauthProviders(cfg)
	httpSrv := httpserver.New(httpserver.Deps{
		Auth:         auth,
		OAuth:        providers,
		Log:          log.Named("http"),
		Health:       health,
		Gatherer:     reg,
		PublicURL:    cfg.HTTP.PublicURL,
		ChallengeTTL: cfg.Challenge.TTL,
		CookieSecure: cfg.Session.CookieSecure,
	})

	var opts []grpc.ServerOption
	if cfg.GRPC.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.TLSCert, cfg.GRPC.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load grpc tls: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	grpcSrv, _ := grpcserver.NewGRPCServer(log.Named("grpc"), grpcserver.New(auth), opts...)
	if cfg.GRPC.Reflection {
		reflection.Register(grpcSrv)
	}

	log.Info("oauth providers enabled", zap.Int("count", len(providers)))
	return &app{
		log:        log,
		http:       httpSrv,
		grpc:       grpcSrv,
		dispatcher: dispatcher,
		sweepers:   []service.Sweeper{challenges, emails},
		sweepEvery: cfg.Challenge.Sweep,
	}, nil
}

// oauthProviders returns the providers with a configured client id.
func oauthProviders(cfg config.Config) map[string]httpserver.OAuthProvider {
	redirect := func(name string) string {
		return cfg.HTTP.PublicURL + "/auth/oauth/" + name + "/callback"
	}
	var ps []*oauth.Provider
	if c := cfg.OAuth.GitHub; c.ClientID != "" {
		ps = append(ps, oauth.GitHub(oauth.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret, RedirectURL: redirect("github")}))
	}
	if c := cfg.OAuth.Twitter; c.ClientID != "" {
		ps = append(ps, oauth.Twitter(oauth.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret, RedirectURL: redirect("twitter")}))
	}
	reg := oauth.NewRegistry(ps...)
	out := make(map[string]httpserver.OAuthProvider, len(reg))
	for _, name := range reg.Names() {
		p, _ := reg.Get(name)
		out[name] = p
	}
	return out
}

func (a *app) run(ctx context.Context, cfg config.Config) error {
	a.dispatcher.Start()
	defer a.dispatcher.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go service.RunSweeper(sweepCtx, a.log, a.sweepEvery, a.sweepers...)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		a.log.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		errCh <- a.grpc.Serve(lis)
	}()
	go func() {
		a.log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- a.http.Listen(cfg.HTTP.Addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.log.Error("server error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		a.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.grpc.Stop()
	}

	a.log.Info("shutdown complete")
	if errors.Is(runErr, grpc.ErrServerStopped) {
		return nil
	}
	return runErr
}
