package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/storefront-auth/internal/config"
	"github.com/iliyamo/storefront-auth/internal/database"
	"github.com/iliyamo/storefront-auth/internal/handler"
	"github.com/iliyamo/storefront-auth/internal/logger"
	"github.com/iliyamo/storefront-auth/internal/middleware"
	"github.com/iliyamo/storefront-auth/internal/queue"
	"github.com/iliyamo/storefront-auth/internal/repository"
	"github.com/iliyamo/storefront-auth/internal/router"
	"github.com/iliyamo/storefront-auth/internal/service"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()
	cfg := config.Load()

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zl.Fatal("database open failed", zap.Error(err))
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		zl.Fatal("schema bootstrap failed", zap.Error(err))
	}

	rdb, err := config.NewRedisClient()
	if err != nil {
		zl.Fatal("redis connect failed", zap.Error(err))
	}
	defer rdb.Close()

	svc := service.New(service.Deps{
		Users:  repository.NewUserRepo(db),
		KV:     repository.NewRedisKV(rdb),
		Mailer: queue.NewMailPublisher(cfg.AMQPURL, zl.Named("mail")),
		Logger: zl.Named("auth"),
	}, service.Options{
		Tokens: service.TokenConfig{
			AccessSecret:  cfg.AccessSecret,
			RefreshSecret: cfg.RefreshSecret,
			AccessTTL:     cfg.AccessTTL(),
			RefreshTTL:    cfg.RefreshTTL(),
		},
		BcryptCost: cfg.BcryptCost,
		Policy: service.Policy{
			OTPTTL:           cfg.Auth.OTPTTL,
			OTPMaxAttempts:   cfg.Auth.OTPMaxAttempts,
			LoginMaxAttempts: cfg.Auth.LoginMaxAttempts,
			LockoutDuration:  cfg.Auth.LockoutDuration,
			ResetTokenTTL:    cfg.Auth.ResetTokenTTL,
			SendLimit:        cfg.Auth.SendLimit,
			SendWindow:       cfg.Auth.SendWindow,
		},
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(zl.Named("http")))

	router.RegisterRoutes(e, handler.Ready(map[string]handler.Pinger{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, zl.Named("ratelimit"))
	router.RegisterAuth(e, handler.NewAuthHandler(svc, zl.Named("handler")), cfg.AccessSecret, limiter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := queue.StartMailConsumer(gctx, cfg.AMQPURL, queue.FileSink{Dir: "logs"}, zl.Named("mail-consumer"))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		addr := ":" + cfg.Port
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
	zl.Info("shutdown complete")
}
