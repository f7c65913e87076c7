package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"peerlink/backend/internal/api/handler"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/logger"
	"peerlink/backend/internal/matchmaking"
	"peerlink/backend/internal/metrics"
	"peerlink/backend/internal/notify"
	"peerlink/backend/internal/presence"
	"peerlink/backend/internal/relayhub"
	"peerlink/backend/internal/rooms"
	"peerlink/backend/internal/storage"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func setupRedis(ctx context.Context, cfg config.Redis) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("failed to connect Redis")
	}
	return rdb
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	l := logger.New(cfg.Debug, cfg.Console)
	l.Info().Str("addr", cfg.HTTP.Addr).Str("db", cfg.DB.Driver).Msg("starting peerlink relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	rdb := setupRedis(ctx, cfg.Redis)
	st := storage.NewStorageService(db, rdb)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := relayhub.NewHub(m)
	if cfg.Redis.Fanout {
		bridge := relayhub.NewRedisBridge(rdb, hub)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("redis bridge stopped")
			}
		}()
	}

	n := notify.New(hub)
	mgr := matchmaking.NewManager(st, n, m, cfg.Matchmaking.RequestTTL)
	go matchmaking.NewReaper(mgr, cfg.Matchmaking.ReaperInterval).Run(ctx)

	ice, err := cfg.ICEServers()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ICE configuration")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	h := handler.NewHandler(handler.Handler{
		Hub:      hub,
		Manager:  mgr,
		Rooms:    rooms.NewRegistry(st, n, m),
		Presence: presence.NewStore(st, n),
		Client:   relayhub.NewClientConfig(cfg.Relay),
		Metrics:  m,
		Gatherer: reg,
		ICE:      ice,
		Auth:     cfg.Auth,
	})
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.HTTP.Addr,
		Handler:        r,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	if rdb != nil {
		rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
