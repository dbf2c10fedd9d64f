package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/chat-app/services/realtime-service/internal/api"
	"github.com/yourorg/chat-app/services/realtime-service/internal/auth"
	"github.com/yourorg/chat-app/services/realtime-service/internal/config"
	"github.com/yourorg/chat-app/services/realtime-service/internal/kafka"
	"github.com/yourorg/chat-app/services/realtime-service/internal/logger"
	"github.com/yourorg/chat-app/services/realtime-service/internal/presence"
	"github.com/yourorg/chat-app/services/realtime-service/internal/registry"
	"github.com/yourorg/chat-app/services/realtime-service/internal/router"
	"github.com/yourorg/chat-app/services/realtime-service/internal/store"
	"github.com/yourorg/chat-app/services/realtime-service/internal/typing"
	"github.com/yourorg/chat-app/services/realtime-service/internal/ws"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if cfg.App.JWTSecret == "" {
		log.Fatal("app.jwt_secret is required")
	}

	lg, err := logger.New(logger.Config{Development: cfg.App.Env != "production", Name: "realtime"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var (
		msgs store.MessageStore
		dir  store.UserDirectory
	)
	if cfg.Mongo.URI != "" {
		mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			lg.Fatalw("mongo connect", "err", err)
		}
		if err := mc.Ping(ctx, nil); err != nil {
			lg.Fatalw("mongo ping", "err", err)
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		ms := store.NewMongoStore(mc.Database(cfg.Mongo.Database))
		msgs, dir = ms, ms
		lg.Infow("using mongo store", "database", cfg.Mongo.Database)
	} else {
		mem := store.NewMemoryStore()
		msgs, dir = mem, mem
		lg.Warn("mongo.uri not set, falling back to in-memory store")
	}

	var mirror *presence.RedisStore
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			lg.Fatalw("redis ping", "err", err)
		}
		defer func() { _ = rc.Close() }()
		mirror = presence.NewRedisStore(rc, cfg.Redis.Prefix)
	}

	var producer router.EventProducer
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent)
		defer func() { _ = kp.Close() }()
		producer = kp
	}

	reg := registry.New(lg)
	defer reg.Close()
	pres := presence.NewBroadcaster(reg, dir, mirror, lg)
	reg.OnTransition(pres.HandleTransition)

	rt := router.New(reg, msgs, dir, producer, lg)
	tc := typing.NewCoordinator(reg, cfg.TypingDebounce)
	verifier := auth.NewJWTVerifier(cfg.App.JWTSecret)
	handler := ws.NewHandler(reg, rt, tc, verifier, mirror, cfg, lg)

	app := api.NewServer(reg, rt, pres, verifier, handler)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.Port
		lg.Infow("starting realtime service", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		lg.Fatalw("server error", "err", e)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		lg.Warnw("shutdown", "err", err)
	}
	lg.Info("shutting down")
}
