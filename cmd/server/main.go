package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
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

	"github.com/comfyforge/comfy-mcp/internal/client"
	"github.com/comfyforge/comfy-mcp/internal/config"
	"github.com/comfyforge/comfy-mcp/internal/handler"
	"github.com/comfyforge/comfy-mcp/internal/imaging"
	"github.com/comfyforge/comfy-mcp/internal/publish"
	"github.com/comfyforge/comfy-mcp/internal/registry"
	"github.com/comfyforge/comfy-mcp/internal/service"
	"github.com/comfyforge/comfy-mcp/internal/tools"
	"github.com/comfyforge/comfy-mcp/internal/worker"
	"github.com/comfyforge/comfy-mcp/internal/workflow"
	ws "github.com/comfyforge/comfy-mcp/internal/websocket"
)

const version = "1.0.0"

func main() {
	stdio := flag.Bool("stdio", false, "serve MCP over stdio instead of streamable HTTP")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Redis is optional: without it the server degrades to in-memory
	// assets and no background polling.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, using in-memory asset registry: %v", err)
		redisUp = false
	}

	ttl := time.Duration(cfg.Registry.TTLHours) * time.Hour
	var reg registry.Registry
	if redisUp {
		reg = registry.NewRedisRegistry(redisClient, ttl)
	} else {
		reg = registry.NewMemoryRegistry(ttl)
	}

	var jobService *service.JobService
	var asynqClient *asynq.Client
	if redisUp {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		jobService = service.NewJobService(redisClient, asynqClient)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// ComfyUI client, workflow store, defaults, preview encoder
	comfy := client.NewComfyClient(&cfg.Comfy)
	store := workflow.NewStore(cfg.Comfy.WorkflowDir)
	defaults := workflow.NewDefaults("", comfy.AvailableModels)
	encoder := imaging.NewEncoder(imaging.NewCache(cfg.Preview.CacheSize), comfy.FetchBytes)

	// Publish pipeline is best effort: without a detectable project root
	// the publish tools report themselves unavailable.
	var publisher *publish.Manager
	if pubCfg, err := publish.NewConfig(cfg.Publish.ProjectRoot, cfg.Publish.PublishRoot, cfg.Publish.OutputRoot, cfg.Publish.MaxBytes); err != nil {
		log.Printf("Warning: publishing disabled: %v", err)
	} else {
		publisher = publish.NewManager(pubCfg)
	}

	workflowService := service.NewWorkflowService(comfy, store, defaults, reg, encoder, jobService, cfg)

	// Initialize handlers
	workflowHandler := handler.NewWorkflowHandler(workflowService, validate)
	assetHandler := handler.NewAssetHandler(reg)
	jobHandler := handler.NewJobHandler(jobService)
	healthHandler := handler.NewHealthHandler(comfy, redisOrNil(redisClient, redisUp), publisher, version)

	// Initialize Fiber ops app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Output: os.Stderr,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Health)

	// API routes
	api := app.Group("/api")
	api.Get("/workflows", workflowHandler.List)
	api.Post("/workflows/:workflowId/run", workflowHandler.Run)
	api.Get("/assets", assetHandler.List)
	api.Get("/assets/:assetId", assetHandler.Get)
	api.Get("/jobs/:jobId", jobHandler.Status)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Start Asynq worker server for resumed polls
	if redisUp {
		go startWorkerServer(cfg, workflowService, jobService, hub)
	}

	// Ops surface runs alongside either MCP transport
	go func() {
		addr := ":" + cfg.Server.OpsPort
		log.Printf("Ops server starting on %s", addr)
		if err := app.Listen(addr); err != nil {
			log.Printf("Ops server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	// MCP transport
	mcpServer := tools.NewServer(tools.ServerConfig{
		Name:      "comfy-mcp",
		Version:   version,
		Workflows: workflowService,
		Publisher: publisher,
		Jobs:      jobService,
		Config:    cfg,
	})
	if *stdio {
		if err := mcpServer.ServeStdio(); err != nil {
			log.Fatalf("MCP stdio error: %v", err)
		}
		return
	}
	if err := mcpServer.ServeHTTP(":" + cfg.Server.MCPPort); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}

func redisOrNil(client *redis.Client, up bool) *redis.Client {
	if !up {
		return nil
	}
	return client
}

func startWorkerServer(cfg *config.Config, workflows *service.WorkflowService, jobs *service.JobService, hub *ws.Hub) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"poll": 10,
			},
		},
	)

	pollWorker := worker.NewPollWorker(workflows, jobs, hub, cfg.Comfy.ResumeAttempts)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePollResume, pollWorker.ProcessTask)

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
