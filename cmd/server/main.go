package main

import (
	"context"
	"log"
	"time"

	"dabubble/internal/config"
	"dabubble/internal/gateway"
	"dabubble/internal/gateway/memory"
	"dabubble/internal/gateway/postgres"
	"dabubble/internal/guards"
	"dabubble/internal/metrics"
	"dabubble/internal/realtime"
	"dabubble/internal/server"
	"dabubble/internal/stores"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	sugar.Info("Current time:", time.Now())

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Cannot load config: %v", err)
	}
	policy, _ := cfg.Policy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var afterShutdown []func()

	var docs gateway.Documents
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := postgres.New(ctx, sugar, cfg.Postgres, postgres.ConnectionTimeout(cfg.ConnectTimeout))
		if err != nil {
			sugar.Fatalf("Cannot create postgres gateway: %v", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			sugar.Fatalf("Cannot migrate postgres schema: %v", err)
		}
		afterShutdown = append(afterShutdown, pg.Close)
		docs = pg
	default:
		docs = memory.NewDocuments()
	}

	authOpts := []memory.Option{
		memory.WithActionURL(cfg.ActionURL),
		memory.WithMailer(func(email, link string) {
			sugar.Infow("Sending action email", "email", email, "link", link)
		}),
	}
	if cfg.ActionSecret != "" {
		authOpts = append(authOpts, memory.WithSecret([]byte(cfg.ActionSecret)))
	}
	if cfg.DelayedRestore {
		authOpts = append(authOpts, memory.WithDelayedRestore())
	}
	auth := memory.NewAuth(authOpts...)
	if cfg.GoogleEmail != "" {
		auth.RegisterProvider(gateway.ProviderGoogle, gateway.Identity{
			Email:       cfg.GoogleEmail,
			DisplayName: cfg.GoogleName,
		})
	}

	hub := realtime.NewHub(sugar)
	publishers := realtime.Publishers{hub}
	if cfg.RedisURL != "" {
		rp, err := realtime.NewRedisPublisher(ctx, sugar, cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Cannot connect to redis: %v", err)
		}
		go func() {
			if err := rp.Subscribe(ctx, hub); err != nil {
				sugar.Errorf("Redis subscription ended: %v", err)
			}
		}()
		afterShutdown = append(afterShutdown, func() {
			if err := rp.Close(); err != nil {
				sugar.Errorf("Closing redis: %v", err)
			}
		})
		publishers = append(publishers, rp)
	}

	m, err := metrics.NewRegistry()
	if err != nil {
		sugar.Fatalf("Cannot register metrics: %v", err)
	}

	set := stores.NewSet(sugar, docs, auth,
		stores.WithPublisher(publishers),
		stores.WithRecorder(m),
		stores.WithMessageLimit(cfg.MessageLimit),
	)
	afterShutdown = append([]func(){set.Close}, afterShutdown...)
	if cfg.DelayedRestore {
		// the session store stays loading until here
		auth.Restore()
	}

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg.Server),
		server.ShutdownTimeout(cfg.ShutdownTimeout),
		server.WithMetrics(m),
		server.WithHub(hub),
		server.RegisterAfterShutdown(cancel),
	}
	for _, f := range afterShutdown {
		serverOpts = append(serverOpts, server.RegisterAfterShutdown(f))
	}

	srv, err := server.NewServer(sugar, set, guards.New(sugar, set.Auth, auth, guards.WithPolicy(policy)), serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
