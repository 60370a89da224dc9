package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vectaconvert/api/internal/cache"
	"github.com/vectaconvert/api/internal/config"
	"github.com/vectaconvert/api/internal/handler"
	"github.com/vectaconvert/api/internal/middleware"
	"github.com/vectaconvert/api/internal/repository"
	"github.com/vectaconvert/api/internal/service"
	"github.com/vectaconvert/api/internal/storage"
	ws "github.com/vectaconvert/api/internal/websocket"
	"github.com/vectaconvert/api/internal/worker"
	"github.com/vectaconvert/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// A job that expires before its conversion can finish will be reaped
	// mid-flight. Worth a loud warning at startup.
	if cfg.Cleanup.JobTTL <= cfg.Conversion.Timeout {
		log.Printf("Warning: job TTL (%s) does not exceed conversion timeout (%s)",
			cfg.Cleanup.JobTTL, cfg.Conversion.Timeout)
	}

	ctx := context.Background()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize Postgres
	pool, err := repository.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Initialize object storage
	urlCache := cache.New("download_url", redisClient)
	store, err := storage.NewR2Client(&cfg.Storage, urlCache)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize repositories
	jobRepo := repository.NewJobRepository(pool)
	fileRepo := repository.NewJobFileRepository(pool)
	analyticsRepo := repository.NewAnalyticsRepository(pool)

	// Initialize services
	usageService := service.NewUsageService(redisClient, cfg)
	jobService := service.NewJobService(jobRepo, fileRepo, store, asynqClient, usageService, cfg)
	cleanupService := service.NewCleanupService(jobRepo, fileRepo, store, cfg.Cleanup.Interval)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	limitsHandler := handler.NewLimitsHandler(usageService)
	statsHandler := handler.NewStatsHandler(analyticsRepo, cfg.Server.AdminToken)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": pool.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
		"storage": store.Ping,
	})

	// Initialize middleware
	session := middleware.NewSession(cfg.Session.Secret, cfg.Session.TTL, cfg.Server.Env == "production")
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024, // JSON only; file bytes go straight to storage
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Admin-Token",
		AllowCredentials: true,
	}))

	// Health check
	app.Get("/health", healthHandler.Get)

	// API routes
	api := app.Group("/api", session.Handler())

	api.Get("/limits", limitsHandler.Get)
	api.Get("/admin/stats", statsHandler.Get)

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	jobs.Post("/:id/start", jobHandler.Start)
	jobs.Get("/:id", jobHandler.Status)
	jobs.Get("/:id/download", jobHandler.DownloadAll)
	jobs.Get("/:id/download/:fileId", jobHandler.Download)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Background loops
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go startWorkerServer(cfg, pool, store, analyticsRepo, hub)
	go cleanupService.Run(workerCtx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopWorkers()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	pool *pgxpool.Pool,
	store storage.ObjectStorage,
	analyticsRepo *repository.AnalyticsRepository,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Conversion.Concurrency,
			Queues: map[string]int{
				"conversion": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	conversionWorker := worker.NewConversionWorker(
		repository.NewJobRepository(pool),
		repository.NewJobFileRepository(pool),
		store,
		analyticsRepo,
		hub,
		cfg.Conversion,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeConversion, conversionWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeInternalError, message, nil)
}
