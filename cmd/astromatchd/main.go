package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"astromatch-backend/config"
	"astromatch-backend/internal/api"
	"astromatch-backend/internal/assign"
	"astromatch-backend/internal/db"
	"astromatch-backend/internal/events"
	"astromatch-backend/internal/gateway"
	"astromatch-backend/internal/notification"
	"astromatch-backend/internal/store"
	"astromatch-backend/internal/sweeper"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "astromatch-backend ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Check for VAPID keys
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// Lifecycle event publisher (optional)
	publisher := events.Nop()
	if cfg.Events.Enabled {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			logger.Fatalf("failed to initialize event publisher: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		logger.Println("event publisher initialized")
	}

	// External gateways
	presenceGateway := gateway.NewPresenceGateway(&cfg.Presence)
	voiceGateway := gateway.NewVoiceGateway(&cfg.Voice)

	// Notification pipeline
	notifier := notification.New(
		appStore,
		presenceGateway,
		voiceGateway,
		&webpushOptions,
		cfg.Sweeper.EscalateAfter,
		time.Duration(cfg.Presence.CacheSeconds)*time.Second,
		cfg.Sweeper.ReminderSeconds,
	)
	defer notifier.Stop()

	// Assignment engine and sweeper
	engine := assign.NewEngine(appStore, notifier, publisher, cfg.Sweeper.Env)
	sweeperSvc := sweeper.NewService(&cfg.Sweeper, appStore, engine, publisher)
	go sweeperSvc.Run(ctx)

	// Initialize router
	router := api.NewRouter(&cfg.Server, appStore, engine, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
