package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/noor9026/slicebox/internal/cache"
	"github.com/noor9026/slicebox/internal/config"
	"github.com/noor9026/slicebox/internal/database"
	"github.com/noor9026/slicebox/internal/events"
	"github.com/noor9026/slicebox/internal/handlers"
	"github.com/noor9026/slicebox/internal/middleware"
	"github.com/noor9026/slicebox/internal/repository"
	"github.com/noor9026/slicebox/internal/services"
	"github.com/noor9026/slicebox/internal/storage"
	"github.com/noor9026/slicebox/internal/transfer"
	"github.com/noor9026/slicebox/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting Slicebox transfer node")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize cache
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis cache initialized")
	} else {
		cacheImpl = cache.NewMemoryCache()
		log.Info().Msg("Memory cache initialized")
	}

	// Initialize object storage
	store, err := storage.NewFileStorage(cfg.Storage.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	// Initialize repositories
	boxRepo := repository.NewBoxRepository()
	outgoingRepo := repository.NewOutgoingRepository()
	incomingRepo := repository.NewIncomingRepository()
	keyRepo := repository.NewAnonymizationKeyRepository()
	imageRepo := repository.NewImageRepository()

	// Initialize event bus and services
	bus := events.NewBus()
	anonymizationService := services.NewAnonymizationService(keyRepo, cacheImpl, cfg.Transfer.PurgeEmptyKeys)
	metadataService := services.NewMetadataService(imageRepo, bus)
	boxService := services.NewBoxService(boxRepo, outgoingRepo, incomingRepo,
		anonymizationService, metadataService, store, bus)

	// Start the transfer supervisor
	supervisor := transfer.NewSupervisor(boxRepo, outgoingRepo, incomingRepo,
		boxService, anonymizationService, bus, cfg.Transfer.PollInterval, cfg.Transfer.BoxTimeout)
	supervisor.Start(context.Background())
	defer supervisor.Stop()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	transferHandler := handlers.NewTransferHandler(boxService)
	boxHandler := handlers.NewBoxHandler(boxService)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Box-to-box wire contract (authenticated by box token)
	r.Route("/api/box", func(r chi.Router) {
		r.Use(middleware.BoxToken(boxService))

		r.Get("/outgoing/poll", transferHandler.Poll)
		r.Get("/outgoing", transferHandler.Outgoing)
		r.Post("/outgoing/done", transferHandler.Done)
		r.Post("/outgoing/failed", transferHandler.Failed)
		r.Post("/incoming", transferHandler.Incoming)
		// Older peers push to /image
		r.Post("/image", transferHandler.Incoming)
	})

	// Management API
	r.Route("/api/boxes", func(r chi.Router) {
		r.Post("/", boxHandler.CreateBox)
		r.Get("/", boxHandler.ListBoxes)
		r.Delete("/{id}", boxHandler.DeleteBox)
		r.Post("/{id}/send", boxHandler.SendImages)
		r.Get("/outgoing", boxHandler.ListOutgoing)
		r.Get("/incoming", boxHandler.ListIncoming)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
