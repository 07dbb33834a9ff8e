package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"cocowallet-sync/internal/api"
	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/logging"
	"cocowallet-sync/internal/ratelimit"
	"cocowallet-sync/internal/referral"
	"cocowallet-sync/internal/runner"
	"cocowallet-sync/internal/status"
	"cocowallet-sync/internal/store"
	"cocowallet-sync/internal/syncjobs"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	statuses := status.New(redisClient, cfg.StatusTTL)

	rn := runner.New(ctx, statuses, log)
	rn.Register("token-metadata", syncjobs.NewMetadataSync(cfg, st, log).Run)
	rn.Register("token-index", syncjobs.NewIndexSync(cfg, st, log).Run)
	logoMirror, err := syncjobs.NewLogoMirror(ctx, cfg, st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build logo mirror")
	}
	rn.Register("token-logos", logoMirror.Run)

	refs := referral.NewService(st, log)
	limiter := ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, rn, statuses, refs, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Strs("jobs", rn.Names()).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
