package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/backend"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/handler"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/pipeline"
	"github.com/makeasinger/studio/internal/pkg/logger"
	"github.com/makeasinger/studio/internal/service"
	ws "github.com/makeasinger/studio/internal/websocket"
	"github.com/makeasinger/studio/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis.unavailable", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// External clients
	groqClient := client.NewGroqClient(&cfg.Groq)
	mediaClient := client.NewMediaClient(&cfg.Media)
	storage := newStorage(cfg)

	// Music backends
	kind, err := backend.ParseKind(cfg.Music.Backend)
	if err != nil {
		log.Fatal("backend.invalid", zap.Error(err))
	}
	lyricsService := service.NewLyricsService(groqClient)
	set, err := backend.NewSet(kind, cfg, backend.Deps{
		StartTimes: newStartTimes(cfg, redisClient),
		Lyrics:     lyricsService,
		Transport:  transportConfig(cfg),
	})
	if err != nil {
		log.Fatal("backend.init_failed", zap.Error(err))
	}

	// Services
	generator := service.NewMusicGenerator(set, cfg.Music)
	storyService := service.NewStoryService(redisClient, asynqClient)
	orchestrator := pipeline.NewOrchestrator(
		service.NewSegmentService(mediaClient),
		service.NewPosterService(groqClient, mediaClient),
		service.NewMusicService(generator),
	)

	hub := ws.NewHub()
	go hub.Run(ctx)

	storyWorker := worker.NewStoryWorker(storyService, orchestrator, service.NewPublisher(storage), hub, cfg.Pipeline.OutputRoot)
	srv := newWorkerServer(cfg, redisOpt)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeStory, storyWorker.ProcessTask)
	if err := srv.Start(mux); err != nil {
		log.Fatal("worker.start_failed", zap.Error(err))
	}

	verifier := newVerifier(ctx, cfg)
	validate := validator.New()
	storyHandler := handler.NewStoryHandler(storyService, validate)
	authHandler := handler.NewAuthHandler(verifier)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", handler.Health(map[string]handler.Pinger{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"media": mediaClient.HealthCheck,
	}))
	app.Get("/auth/verify", authHandler.Verify)

	authenticate := middleware.Authenticate(verifier)
	if cfg.Server.GatewayAuth {
		authenticate = middleware.GatewayAuth()
	}

	stories := app.Group("/api/stories", authenticate)
	stories.Post("/", rateLimiter.StoryLimit(cfg.RateLimit.StoriesPerHour), storyHandler.Start)
	stories.Get("/:jobId/status", storyHandler.Status)
	stories.Get("/:jobId/result", storyHandler.Result)
	stories.Post("/:jobId/cancel", storyHandler.Cancel)

	app.Use("/ws", handler.RequireUpgrade)
	app.Get("/ws/stories/:jobId", handler.Watch(hub))

	go func() {
		<-ctx.Done()
		log.Info("server.shutting_down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server.shutdown_failed", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server.starting", zap.String("addr", addr), zap.String("music_backend", kind.String()))
	if err := app.Listen(addr); err != nil {
		log.Error("server.listen_failed", zap.Error(err))
	}

	srv.Shutdown()
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	concurrency := cfg.Server.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			service.QueueStories: 1,
		},
		Logger: zapAsynqLogger{logger.L().Sugar().Named("asynq")},
	})
}

// newStorage returns nil when publishing is off or R2 is not configured;
// artifacts then stay on local disk.
func newStorage(cfg *config.Config) client.StorageClient {
	if !cfg.Pipeline.Publish {
		return nil
	}
	r2, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		logger.L().Warn("storage.disabled", zap.Error(err))
		return nil
	}
	return r2
}

func newStartTimes(cfg *config.Config, redisClient *redis.Client) backend.StartTimes {
	if cfg.Music.StartTimeStore == "redis" {
		return backend.NewRedisStartTimes(redisClient, "music:start:", cfg.Music.StartTimeExpiry)
	}
	return backend.NewMemoryStartTimes(cfg.Music.StartTimeExpiry)
}

func transportConfig(cfg *config.Config) backend.TransportConfig {
	tc := backend.DefaultTransportConfig()
	if cfg.Music.TransportRetry > 0 {
		tc.MaxRetries = cfg.Music.TransportRetry
	}
	if cfg.Music.AuthCooldown > 0 {
		tc.AuthCooldown = cfg.Music.AuthCooldown
	}
	return tc
}

func newVerifier(ctx context.Context, cfg *config.Config) auth.Verifier {
	var chain auth.Chain
	if cfg.Zitadel.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			logger.L().Warn("auth.jwks_unavailable", zap.Error(err))
		} else {
			chain = append(chain, jwks)
		}
	}
	if cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	return chain
}

// zapAsynqLogger adapts the sugared logger to asynq.Logger.
type zapAsynqLogger struct {
	l *zap.SugaredLogger
}

func (z zapAsynqLogger) Debug(args ...interface{}) { z.l.Debug(args...) }
func (z zapAsynqLogger) Info(args ...interface{})  { z.l.Info(args...) }
func (z zapAsynqLogger) Warn(args ...interface{})  { z.l.Warn(args...) }
func (z zapAsynqLogger) Error(args ...interface{}) { z.l.Error(args...) }
func (z zapAsynqLogger) Fatal(args ...interface{}) { z.l.Fatal(args...) }

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
