package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"sentinal-realtime/config"
	"sentinal-realtime/internal/audit"
	"sentinal-realtime/internal/auth"
	"sentinal-realtime/internal/broker"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/repository"
	"sentinal-realtime/internal/repository/memory"
	"sentinal-realtime/internal/server"
	"sentinal-realtime/internal/services"
	"sentinal-realtime/internal/storage"
	"sentinal-realtime/pkg/database"
	"sentinal-realtime/pkg/events"
	"sentinal-realtime/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	rdb, err := redis.NewClient(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	registry := realtime.NewRegistry()
	var fanout *realtime.Fanout
	if cfg.RedisPubSubEnabled {
		fanout = realtime.NewRedisFanout(registry, redis.NewPublisher(rdb), redis.NewSubscriber(rdb), l.Named("fanout"))
	} else {
		fanout = realtime.NewLocalFanout(registry, l.Named("fanout"))
	}

	ready := make(chan struct{})
	go func() {
		if err := fanout.Run(ctx, func() { close(ready) }); err != nil {
			l.Logger.Error("Fanout subscriber stopped", zap.Error(err))
		}
	}()
	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		log.Fatalf("Fanout subscriber did not become ready")
	}

	recorder, stopAudit := openAudit(ctx, cfg, l)
	defer stopAudit()

	rooms := redis.NewRoomStore(rdb, cfg.PresenceTTL)
	queue := redis.NewOfflineQueue(rdb, redis.OfflineQueueConfig{
		Cap:              cfg.OfflineQueueCap,
		TTL:              cfg.OfflineQueueTTL,
		PinThreadCreated: cfg.OfflinePinCreated,
	}, l.Named("offline_queue"))
	limiter := redis.NewRateLimiter(rdb, redis.RateLimitConfig{Action: "send", Limit: cfg.SendLimit, Window: cfg.SendWindow})

	presence := services.NewPresenceService(redis.NewPresenceStore(rdb, cfg.PresenceTTL), rooms, registry, fanout, l.Named("presence"))
	meta := services.NewThreadMetaService(redis.NewThreadCache(rdb, cfg.ThreadCacheTTL), store, l.Named("thread_meta"))
	offline := services.NewOfflineService(queue, store, l.Named("offline"))
	sessions := services.NewSessionService(store, meta, presence, rooms, l.Named("session"))
	messages := services.NewMessageService(store, limiter, meta, presence, rooms, offline, fanout, recorder, l.Named("messages"))
	signals := services.NewSignalService(store, redis.NewTypingStore(rdb, cfg.TypingTTL), fanout, l.Named("signals"))

	bus := events.NewBus(l.Named("events"))
	threadEvents := services.NewThreadEventsService(meta, presence, offline, fanout, l.Named("thread_events"))
	defer threadEvents.Subscribe(bus)()

	if cfg.AMQPURL != "" {
		consumer, err := broker.NewThreadFeedConsumer(broker.Config{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Queue:    cfg.AMQPQueue,
		}, bus, l.Named("thread_feed"))
		if err != nil {
			log.Fatalf("Failed to start thread feed: %v", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				l.Logger.Error("Thread feed consumer stopped", zap.Error(err))
			}
		}()
	} else {
		l.Logger.Warn("AMQP_URL not set, thread-created feed disabled")
	}

	go presence.RunHeartbeat(ctx)

	wsLogger := server.NewWebSocketLogger(l.Logger)
	hub := server.NewHub(server.Services{
		Presence: presence,
		Sessions: sessions,
		Messages: messages,
		Signals:  signals,
		Offline:  offline,
	}, wsLogger)

	srv := server.New(cfg, l, hub)
	srv.SetupRoutes(server.Routes{
		WebSocket: server.NewWebSocketHandler(hub, auth.NewJWTBinder(cfg.JWTSecret), wsLogger),
		HandshakeLimiter: redis.NewRateLimiter(rdb, redis.RateLimitConfig{
			Action: "handshake",
			Limit:  cfg.HandshakeLimit,
			Window: cfg.HandshakeWindow,
		}),
		Health: map[string]server.HealthCheck{
			"store": store.Ping,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	if err := srv.Start(); err != nil {
		l.Logger.Error("Server shutdown failed", zap.Error(err))
	}
	cancel()
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		zap.L().Warn("Using in-memory store, data is not persisted")
		return memory.New(), func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.DSN(), cfg.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPostgresStore(pool), pool.Close, nil
}

// openAudit returns the S3 archiver when a bucket is configured and the
// log-only recorder otherwise. The returned stop func flushes pending entries.
func openAudit(ctx context.Context, cfg *config.Config, l *logger.Logger) (audit.Recorder, func()) {
	if cfg.AuditBucket == "" {
		return audit.NewLogRecorder(l.Named("audit")), func() {}
	}

	s3Client, err := storage.NewClient(ctx, storage.S3Config{
		Region:    cfg.AuditRegion,
		Bucket:    cfg.AuditBucket,
		AccessKey: cfg.AuditAccessKey,
		SecretKey: cfg.AuditSecretKey,
		Endpoint:  cfg.AuditEndpoint,
	})
	if err != nil {
		l.Logger.Warn("Audit archive disabled", zap.Error(err))
		return audit.NewLogRecorder(l.Named("audit")), func() {}
	}

	archiver := audit.NewS3Archiver(s3Client, audit.ArchiverConfig{
		BatchSize:     cfg.AuditBatchSize,
		FlushInterval: cfg.AuditFlushInterval,
	}, l.Named("audit"))

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		archiver.Run(runCtx)
	}()
	return archiver, func() {
		stop()
		<-done
	}
}
