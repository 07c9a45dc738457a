package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"leadpilot/config"
	"leadpilot/middleware"
	"leadpilot/routes"
	"leadpilot/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "LEADPILOT: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Error reporting is optional; skipped when no DSN is configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Setup routes; the hub and exporter feed the background workers
	_, exporter := routes.SetupRoutes(app, config.DB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callWorker := worker.NewCallRequestWorker(config.DB, log.New(os.Stdout, "CALLWORKER: ", log.LstdFlags))
	go callWorker.Start(ctx)

	syncWorker := worker.NewSyncWorker(config.DB, exporter, log.New(os.Stdout, "SYNCWORKER: ", log.LstdFlags))
	go syncWorker.Start(ctx)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
