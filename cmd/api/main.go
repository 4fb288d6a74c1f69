package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"accessgate.org/internal/authz"
	"accessgate.org/internal/config"
	"accessgate.org/internal/httpapi"
	"accessgate.org/internal/obs"
	"accessgate.org/internal/store/pg"
	"accessgate.org/internal/store/redis"
	"accessgate.org/internal/token"
)

var version = "0.3.1"

// splitStore serves refresh sessions from a dedicated backend while the
// relational store keeps users, roles and permissions.
type splitStore struct {
	authz.Store
	sessions authz.SessionStore
}

func (s splitStore) Sessions(context.Context) authz.SessionStore { return s.sessions }

func main() {
	configPath := flag.String("config", os.Getenv("ACCESSGATE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Logging.Level, cfg.Logging.Format, version)
	obs.Init()

	pgStore, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer pgStore.DB().Close()

	var store authz.Store = pgStore
	if cfg.Sessions.Backend == "redis" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Sessions.RedisAddr})
		defer client.Close()
		store = splitStore{Store: pgStore, sessions: redis.NewSessionStore(client)}
		logger.Info("refresh sessions on redis", "addr", cfg.Sessions.RedisAddr)
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  []byte(cfg.Tokens.AccessSecret),
		RefreshSecret: []byte(cfg.Tokens.RefreshSecret),
		AccessTTL:     cfg.Tokens.AccessTTL.Std(),
		RefreshTTL:    cfg.Tokens.RefreshTTL.Std(),
		Issuer:        cfg.Tokens.Issuer,
		Leeway:        cfg.Tokens.Leeway.Std(),
	})
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	resolver, err := authz.NewResolver(pgStore.Permissions(context.Background()))
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	guard, err := authz.NewGuard(codec, store, resolver, authz.RoleSource(cfg.Guard.RoleSource), logger)
	if err != nil {
		log.Fatalf("guard: %v", err)
	}
	service, err := authz.NewService(store, codec, resolver, authz.WithLogger(logger))
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	if err := service.EnsureBuiltins(startCtx); err != nil {
		startCancel()
		log.Fatalf("seed permission catalog: %v", err)
	}
	startCancel()

	api := httpapi.New(service, guard, httpapi.ReadyProbe{DB: pgStore.DB()}, version, logger)
	limiter := httpapi.NewRateLimiter(float64(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           limiter.Middleware(api.Handler()),
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout.Std(),
		WriteTimeout:      cfg.Server.WriteTimeout.Std(),
		IdleTimeout:       cfg.Server.IdleTimeout.Std(),
	}

	logger.Info("starting accessgate-api", "version", version, "addr", srv.Addr,
		"role_source", cfg.Guard.RoleSource, "sessions_backend", cfg.Sessions.Backend)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info("stopped")
}
