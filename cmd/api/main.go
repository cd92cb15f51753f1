package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"identra.org/internal/auth"
	"identra.org/internal/config"
	"identra.org/internal/httpapi"
	"identra.org/internal/mail"
	"identra.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg := config.MustLoad(os.Getenv("IDENTRA_CONFIG"))

	log, err := obs.InitLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory otherwise. The memory
	// store is for local runs; it loses everything on restart.
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.DB.DSN != "" {
		db, err = sql.Open("pgx", cfg.DB.DSN)
		if err != nil {
			log.Fatal("open db", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Warn("no database configured, using in-memory store")
		store = auth.NewMemoryStore()
	}

	codec, err := auth.NewCodec(auth.CodecConfig{
		Issuer:        cfg.Tokens.Issuer,
		AccessSecret:  cfg.Tokens.AccessSecret,
		RefreshSecret: cfg.Tokens.RefreshSecret,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
	})
	if err != nil {
		log.Fatal("token codec", zap.Error(err))
	}

	svc, err := auth.NewService(
		store,
		codec,
		auth.NewHasher(cfg.Password.BcryptCost),
		mail.NewLogDispatcher(log),
		auth.WithLogger(log),
		auth.WithPublicURL(cfg.PublicURL),
		auth.WithActionTokenTTLs(cfg.Actions.VerificationTTL, cfg.Actions.ResetTTL),
		auth.WithCooldown(cfg.Actions.ResendCooldown),
	)
	if err != nil {
		log.Fatal("auth service", zap.Error(err))
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, codec, httpapi.Options{
		Logger:     log,
		RateBurst:  cfg.RateLimit.Burst,
		RatePerSec: cfg.RateLimit.PerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPServer.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTPServer.ReadTimeout,
		WriteTimeout:      cfg.HTTPServer.WriteTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
	}

	log.Info("starting identra-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.Env),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}
