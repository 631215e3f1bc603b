package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pathfinder/internal/config"
	"pathfinder/internal/database"
	"pathfinder/internal/handlers"
	"pathfinder/internal/jobs"
	"pathfinder/internal/logging"
	"pathfinder/internal/models"
	"pathfinder/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Pathfinder Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️ No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// MySQL snapshot persistence (optional)
	var db *database.DB
	var snapshotStore *database.SnapshotStore
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Initialize(); err != nil {
			log.Fatalf("❌ Failed to initialize database: %v", err)
		}
		snapshotStore = database.NewSnapshotStore(db)
	} else {
		log.Println("⚠️ DATABASE_URL not set - session snapshot persistence disabled")
	}

	// Redis for cross-instance progress events (optional)
	var redisService *services.RedisService
	var progressPublisher *services.ProgressPublisher
	if cfg.RedisURL != "" {
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (progress relay disabled)", err)
		} else {
			defer redisService.Close()
			progressPublisher = services.NewProgressPublisher(redisService, uuid.New().String())
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - cross-instance progress relay disabled")
	}

	// Policy parameters, hot-reloaded from YAML
	policyStore := config.NewPolicyStore(cfg.PolicyFile)
	if err := policyStore.Watch(); err != nil {
		log.Printf("⚠️ Policy file watch disabled: %v", err)
	}
	defer policyStore.Close()

	// Core services
	connManager := services.NewConnectionManager()
	metrics := services.InitMetrics(connManager)

	marketClient := services.NewHTTPMarketClient(cfg.MarketDataURL, cfg.MarketDataAPIKey, cfg.MarketDataTimeout)
	enhancement := services.NewEnhancementService(marketClient, policyStore, metrics)
	defer enhancement.Shutdown()

	var snapshotSink services.SnapshotSink
	if snapshotStore != nil {
		snapshotSink = snapshotStore
	}
	sessionService := services.NewSessionService(enhancement, snapshotSink, metrics)

	evidenceService := services.NewEvidenceService(services.NewHeuristicExtractor())
	classifier := services.NewPersonaClassifier()
	stageMachine := services.NewStageMachine(policyStore.PersonaThreshold)
	policyService := services.NewPolicyService(policyStore)
	toolExecutor := services.NewToolExecutor(enhancement, stageMachine, progressPublisher, sessionService, metrics)
	orchestrator := services.NewOrchestrator(evidenceService, classifier, stageMachine, policyService, toolExecutor, sessionService, policyStore, metrics)

	// Relay progress events published by other instances to locally attached
	// clients.
	if progressPublisher != nil {
		progressPublisher.OnProgress(func(sessionID string, update models.ProgressUpdate) {
			if rt, ok := sessionService.Get(sessionID); ok {
				rt.Emit(models.ServerMessage{Type: "progress", SessionID: sessionID, Progress: &update})
			}
		})
		if err := progressPublisher.Start(); err != nil {
			log.Printf("⚠️ Failed to start progress relay: %v", err)
		}
		defer progressPublisher.Stop()
	}

	// One driver per transport channel; everything else they share.
	textDriver := services.NewCompletionDriver("text", cfg.ModelAPIURL, cfg.ModelAPIKey, cfg.TextModel, cfg.ModelTimeout)
	voiceDriver := services.NewCompletionDriver("voice", cfg.ModelAPIURL, cfg.ModelAPIKey, cfg.VoiceModel, cfg.ModelTimeout)

	// Background jobs
	jobScheduler := jobs.NewJobScheduler()
	retentionJob, err := jobs.NewRetentionCleanupJob(sessionService, snapshotStore, cfg.SessionIdleTimeout, cfg.RetentionCron)
	if err != nil {
		log.Fatalf("❌ Invalid RETENTION_CRON %q: %v", cfg.RetentionCron, err)
	}
	jobScheduler.Register("retention-cleanup", retentionJob)
	jobScheduler.Start()
	defer jobScheduler.Stop()

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Pathfinder v1.0",
		ReadTimeout:  900 * time.Second,
		WriteTimeout: 900 * time.Second,
		IdleTimeout:  900 * time.Second,
		BodyLimit:    10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("pathfinder")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️ ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowedOrigins != "*",
	}))

	// Rate-limit the REST surface; websocket turns are paced per-connection.
	app.Use("/api", limiter.New(limiter.Config{
		Max:        cfg.APIRateLimit,
		Expiration: 1 * time.Minute,
	}))

	// Handlers
	healthHandler := handlers.NewHealthHandler(connManager, sessionService, db, redisService)
	sessionHandler := handlers.NewSessionHandler(sessionService, snapshotStore)
	textHandler := handlers.NewWebSocketHandler(models.ChannelText, textDriver, connManager, sessionService, orchestrator, enhancement)
	voiceHandler := handlers.NewWebSocketHandler(models.ChannelVoice, voiceDriver, connManager, sessionService, orchestrator, enhancement)

	// Routes
	app.Get("/health", healthHandler.Handle)
	app.Get("/api/sessions/:id/snapshot", sessionHandler.GetSnapshot)
	app.Delete("/api/sessions/:id", sessionHandler.EndSession)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsConfig := websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}
	app.Get("/ws/chat", websocket.New(textHandler.Handle, wsConfig))
	app.Get("/ws/voice", websocket.New(voiceHandler.Handle, wsConfig))

	log.Printf("💬 Chat endpoint: ws://localhost:%s/ws/chat", cfg.Port)
	log.Printf("🎙️ Voice endpoint: ws://localhost:%s/ws/voice", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")
		jobScheduler.Stop()
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
