package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/littlehero/api/internal/auth"
	"github.com/littlehero/api/internal/bookjob"
	"github.com/littlehero/api/internal/catalog"
	"github.com/littlehero/api/internal/client"
	"github.com/littlehero/api/internal/config"
	"github.com/littlehero/api/internal/handler"
	"github.com/littlehero/api/internal/lifecycle"
	"github.com/littlehero/api/internal/logger"
	"github.com/littlehero/api/internal/middleware"
	"github.com/littlehero/api/internal/model"
	"github.com/littlehero/api/internal/notify"
	"github.com/littlehero/api/internal/service"
	"github.com/littlehero/api/internal/storage"
	ws "github.com/littlehero/api/internal/websocket"
	"github.com/littlehero/api/internal/worker"
	"github.com/littlehero/api/pkg/response"
)

const maintenanceQueue = "maintenance"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	l := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		l.Warn().Err(err).Msg("redis not available")
	}

	// Object store and retention rules
	gateway, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to configure object storage")
	}

	if !gateway.Tagging() {
		l.Warn().
			Str("provider", cfg.Storage.Provider).
			Msg("provider has no object tagging: per-category lifecycle rules cannot be applied, only the storage audit tracks retention")
	}
	engine := lifecycle.NewEngine(gateway, lifecycle.DefaultPolicies(cfg.Retention), l)
	if report, err := engine.Reconcile(ctx); err != nil {
		l.Warn().Err(err).Msg("lifecycle reconcile failed")
	} else if !report.OK() {
		l.Warn().Int("rejected", len(report.Rejected)).Msg("some lifecycle rules were rejected")
	}

	// Job state
	store, err := newJobStore(cfg.Jobs, redisClient)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to configure job store")
	}
	machine := bookjob.NewMachine(store)

	// Status fan-out: websocket subscribers and, when configured, AMQP
	hub := ws.NewHub(l)
	go hub.Run(ctx)

	sinks := []notify.Sink{notify.NewHubSink(hub)}
	if cfg.AMQP.URL != "" {
		publisher, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			l.Warn().Err(err).Msg("amqp not available, status events stay local")
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
		}
	}
	dispatcher := notify.NewDispatcher(l, 256, sinks...)
	machine.Subscribe(dispatcher)

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		dispatcher.Run(ctx)
	}()

	// Queue
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Collaborators
	illustrator, err := client.NewIllustrationGenerator(cfg.Illustration)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to configure illustration provider")
	}
	cat := catalog.Default()

	// Services
	enqueuer := service.NewAsynqEnqueuer(asynqClient, cfg.Jobs.Queue, cfg.Jobs.MaxRetry)
	bookService := service.NewBookService(machine, gateway, cat, enqueuer, cfg.Upload, cfg.Storage.PresignTTL, l)

	// Workers
	bookWorker := worker.NewBookWorker(
		machine, gateway, cat,
		illustrator, client.NewPDFAssembler(), client.NewThumbnailer(0, 0),
		worker.ConfigFrom(cfg.Jobs, cfg.Illustration), l,
	)
	auditWorker := worker.NewAuditWorker(engine, l)
	sweepWorker := worker.NewSweepWorker(machine, enqueuer, cfg.Jobs.StaleAfter, l)

	workerServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Jobs.Concurrency,
		Queues: map[string]int{
			cfg.Jobs.Queue:   6,
			maintenanceQueue: 1,
		},
		Logger:          logger.Asynq{L: l},
		ShutdownTimeout: 30 * time.Second,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(model.TaskTypeBookGenerate, bookWorker.ProcessTask)
	mux.HandleFunc(model.TaskTypeStorageAudit, auditWorker.ProcessTask)
	mux.HandleFunc(model.TaskTypeBookSweep, sweepWorker.ProcessTask)
	if err := workerServer.Start(mux); err != nil {
		l.Error().Err(err).Msg("asynq worker failed to start")
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logger.Asynq{L: l}})
	if cfg.Audit.Cronspec != "" {
		auditTask := asynq.NewTask(model.TaskTypeStorageAudit, nil)
		if _, err := scheduler.Register(cfg.Audit.Cronspec, auditTask, asynq.Queue(maintenanceQueue), asynq.Unique(time.Hour)); err != nil {
			l.Error().Err(err).Str("cronspec", cfg.Audit.Cronspec).Msg("failed to schedule storage audit")
		}
	}
	if cfg.Jobs.SweepCronspec != "" {
		sweepTask := asynq.NewTask(model.TaskTypeBookSweep, nil)
		if _, err := scheduler.Register(cfg.Jobs.SweepCronspec, sweepTask, asynq.Queue(maintenanceQueue), asynq.Unique(time.Minute)); err != nil {
			l.Error().Err(err).Str("cronspec", cfg.Jobs.SweepCronspec).Msg("failed to schedule book sweep")
		}
	}
	if err := scheduler.Start(); err != nil {
		l.Error().Err(err).Msg("asynq scheduler failed to start")
	}
	defer scheduler.Shutdown()

	// Auth
	var verifier auth.TokenVerifier
	if cfg.OIDC.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, cfg.OIDC)
		if err != nil {
			l.Warn().Err(err).Msg("oidc verifier unavailable, using legacy tokens only")
		} else {
			defer jwks.Close()
			verifier = jwks
		}
	}

	authn := auth.NewAuthenticator(verifier, cfg.JWT.Secret)

	var authenticate fiber.Handler
	if cfg.Gateway.Enabled {
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		authenticate = middleware.NewAuthMiddleware(authn).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, l)

	// Handlers
	validate := validator.New()
	bookHandler := handler.NewBookHandler(bookService, validate, l)
	streamHandler := handler.NewStreamHandler(bookService, hub, l)
	authHandler := handler.NewAuthHandler(authn)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(l))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Static("/static", "./static")

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":        redisClient.Ping(c.Context()).Err() == nil,
				"storage":      gateway.Bucket(),
				"illustration": illustrator.Name(),
				"auth":         authn.Configured() || cfg.Gateway.Enabled,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", authenticate)
	api.Get("/adventure-types", bookHandler.AdventureTypes)

	books := api.Group("/books")
	books.Post("/", rateLimiter.BooksLimit(cfg.RateLimit.BooksPerHour), bookHandler.Create)
	books.Get("/", bookHandler.List)
	books.Get("/:id", bookHandler.Status)
	books.Get("/:id/download", bookHandler.Download)
	books.Post("/:id/cancel", bookHandler.Cancel)
	books.Post("/:id/retry", rateLimiter.BooksLimit(cfg.RateLimit.BooksPerHour), bookHandler.Retry)

	// WebSocket routes
	app.Get("/ws/books/:id", authenticate, streamHandler.Authorize, streamHandler.Stream())

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		l.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			l.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	l.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		l.Error().Err(err).Msg("server error")
	}

	stop()
	workerServer.Shutdown()
	background.Wait()
	l.Info().Msg("server stopped")
}

// newJobStore picks the job record backend. The memory store keeps
// everything in one process and suits local development only.
func newJobStore(cfg config.JobsConfig, redisClient *redis.Client) (bookjob.Store, error) {
	switch cfg.Store {
	case "memory":
		return bookjob.NewMemoryStore(), nil
	case "redis", "":
		return bookjob.NewRedisStore(redisClient), nil
	default:
		return nil, fmt.Errorf("unknown job store %q", cfg.Store)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, errorCode(code), message, nil)
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
		return response.CodeValidationError
	case fiber.StatusUnauthorized:
		return response.CodeUnauthorized
	case fiber.StatusForbidden:
		return response.CodeForbidden
	case fiber.StatusNotFound:
		return response.CodeNotFound
	case fiber.StatusTooManyRequests:
		return response.CodeRateLimited
	}
	return response.CodeServiceError
}
