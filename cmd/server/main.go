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
	"github.com/redis/go-redis/v9"

	"github.com/storycanvas/api/internal/auth"
	"github.com/storycanvas/api/internal/client"
	"github.com/storycanvas/api/internal/config"
	"github.com/storycanvas/api/internal/handler"
	"github.com/storycanvas/api/internal/middleware"
	"github.com/storycanvas/api/internal/service"
	"github.com/storycanvas/api/internal/worker"
	ws "github.com/storycanvas/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
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

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	groqClient := client.NewGroqClient(&cfg.Groq)
	mediaClient := client.NewMediaClient(&cfg.Media)

	// Credit ledger (falls back to a local in-memory ledger)
	var ledger client.CreditLedger
	ledgerClient := client.NewLedgerClient(&cfg.Ledger)
	if ledgerClient.IsConfigured() {
		ledger = ledgerClient
	} else {
		log.Println("Info: ledger service not configured, using local ledger")
		ledger = client.NewLocalLedger(500)
	}

	// Initialize R2 client (optional - continues if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, keeping provider URLs")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize board store and services
	store := service.NewBoardStore(hub, redisClient)
	go store.Run()

	extractService := service.NewExtractService(groqClient)
	enqueuer := service.NewAsynqEnqueuer(asynqClient)
	poller := service.NewPoller(mediaClient, &cfg.Pipeline)
	pipelineService := service.NewPipelineService(store, extractService, enqueuer, storage, &cfg.Pipeline)
	renderService := service.NewRenderService(store, mediaClient, ledger, storage, poller, &cfg.Credits)

	// Initialize handlers
	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	renderHandler := handler.NewRenderHandler(renderService)
	sceneHandler := handler.NewSceneHandler(pipelineService, validate)
	assetHandler := handler.NewAssetHandler(pipelineService, validate)
	creditsHandler := handler.NewCreditsHandler(ledger)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"groq":    groqClient.IsConfigured(),
				"media":   mediaClient.IsConfigured(),
				"ledger":  ledgerClient.IsConfigured(),
				"r2":      storage != nil,
				"auth":    jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Pipeline routes
	pipeline := api.Group("/pipeline")
	pipeline.Post("/run", rateLimiter.PipelineLimit(cfg.RateLimit.PipelinePerHour), pipelineHandler.Run)
	pipeline.Get("/:projectId", pipelineHandler.GetBoard)
	pipeline.Get("/:projectId/log", pipelineHandler.GetLog)

	// Render routes
	render := api.Group("/render", rateLimiter.RenderLimit(cfg.RateLimit.RenderPerHour))
	render.Post("/:projectId/images", renderHandler.Images)
	render.Post("/:projectId/videos", renderHandler.Videos)

	// Scene routes
	scenes := api.Group("/scenes", rateLimiter.SceneLimit(cfg.RateLimit.ScenePerMin))
	scenes.Post("/:projectId/select", sceneHandler.Select)
	scenes.Post("/:projectId/deselect", sceneHandler.Deselect)
	scenes.Post("/:projectId/select-all", sceneHandler.SelectAll)
	scenes.Patch("/:projectId/:sceneId/prompt", sceneHandler.UpdatePrompt)

	// Asset routes
	assets := api.Group("/assets", rateLimiter.AssetLimit(cfg.RateLimit.AssetPerHour))
	assets.Post("/:projectId", assetHandler.Create)
	assets.Patch("/:projectId/:assetId", assetHandler.Update)
	assets.Delete("/:projectId/:assetId", assetHandler.Delete)
	assets.Post("/:projectId/:assetId/regenerate", assetHandler.Regenerate)

	// Credits routes
	credits := api.Group("/credits")
	credits.Get("/balance", creditsHandler.Balance)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/projects/:projectId", websocket.New(func(c *websocket.Conn) {
		projectID := c.Params("projectId")
		hub.HandleConnection(c, projectID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, store, mediaClient, ledger, storage, poller)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
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
	store *service.BoardStore,
	mediaClient *client.MediaClient,
	ledger client.CreditLedger,
	storage client.StorageClient,
	poller *service.Poller,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	// Concurrency is the design job pool: each task holds a slot from
	// submission through its final poll
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Pipeline.MaxParallel,
			Queues: map[string]int{
				service.QueueDesign: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	assetWorker := worker.NewAssetWorker(store, mediaClient, ledger, storage, poller, &cfg.Credits)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeAssetDesign, assetWorker.ProcessTask)

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

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
