package bootstrap

import (
	"context"
	"log"

	"apk-builder-be/internal/config"
	"apk-builder-be/internal/controller"
	"apk-builder-be/internal/handler"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/internal/repository/memory"
	"apk-builder-be/internal/service"
	"apk-builder-be/internal/websocket"
	"apk-builder-be/pkg/events"
	"apk-builder-be/pkg/integrity"
	"apk-builder-be/pkg/storage"

	pktNats "apk-builder-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	AppBuilderController controller.IAppBuilderController

	// Background Services (Exposed for main.go to run)
	ConsumerService   service.IConsumerService
	StepReportService service.IStepReportService // nil without NATS

	// WebSockets
	AppBuilderWsHandler *handler.AppBuilderWsHandler
	WebSocketHub        *websocket.Hub

	Logger logger.ILogger

	closers []func()
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	algorithm, err := integrity.ParseAlgorithm(cfg.Upload.HashAlgorithm)
	if err != nil {
		log.Fatalf("[FATAL] Invalid UPLOAD_HASH_ALGORITHM: %v", err)
	}

	store := storage.NewOSStore(cfg.Upload.Dir)
	sessionRepo := memory.NewSessionRepository(cfg.Session.TTL, cfg.Session.CleanupInterval)
	locks := service.NewSessionLocks()

	c := &Container{Logger: sysLogger}

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 3. Infrastructure
	// NATS
	var forwarder service.EventForwarder
	var natsSub *pktNats.Subscriber
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			forwarder = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
		natsSub, err = pktNats.NewSubscriber(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
			natsSub = nil
		} else {
			c.closers = append(c.closers, natsSub.Close)
		}
	}

	// Redis
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{
				Addr: cfg.App.RedisURL,
			}
		}
		rdb = redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)
	c.WebSocketHub = websocket.NewHub(rdb, wsLogger)

	// 4. Services
	publisherService := service.NewPublisherService(cfg.Events.Topic, pubSub)
	c.ConsumerService = service.NewConsumerService(pubSub, cfg.Events.Topic, forwarder, sysLogger)

	sessionService := service.NewSessionService(sessionRepo, algorithm, publisherService, sysLogger)
	pipelineService := service.NewPipelineService(sessionRepo, c.WebSocketHub)
	uploadService := service.NewUploadService(
		sessionService,
		pipelineService,
		store,
		locks,
		publisherService,
		sysLogger,
		cfg.Upload.ProgressInterval,
	)
	verifyService := service.NewVerifyService(
		sessionService,
		pipelineService,
		store,
		locks,
		algorithm,
		publisherService,
		sysLogger,
		cfg.Upload.ProgressInterval,
	)

	if natsSub != nil {
		c.StepReportService = service.NewStepReportService(
			natsSub,
			cfg.Events.StepReportSubj,
			cfg.Events.DurableName,
			pipelineService,
			sysLogger,
		)
	}

	// Evicted sessions release their lock slot and artifact.
	sessionRepo.OnEvicted(func(id string) {
		locks.Forget(id)
		if err := store.RemoveAll(id); err != nil {
			sysLogger.Warn("SESSION", "Failed to remove evicted artifact", map[string]interface{}{
				"connection_id": id,
				"error":         err.Error(),
			})
		}
		_ = publisherService.Publish(context.Background(), events.New(events.TypeSessionEvicted, map[string]interface{}{
			"connection_id": id,
		}))
	})

	// 5. Controllers
	c.AppBuilderController = controller.NewAppBuilderController(
		sessionService,
		pipelineService,
		uploadService,
		verifyService,
		sysLogger,
	)
	c.AppBuilderWsHandler = handler.NewAppBuilderWsHandler(sessionService, pipelineService, c.WebSocketHub, wsLogger)

	return c
}

// Close releases bus and cache connections.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}
