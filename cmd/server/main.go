package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"coursestream-backend/internal/config"
	"coursestream-backend/internal/database"
	"coursestream-backend/internal/events"
	"coursestream-backend/internal/handlers"
	"coursestream-backend/internal/middleware"
	"coursestream-backend/internal/queue"
	"coursestream-backend/internal/repository"
	"coursestream-backend/internal/router"
	"coursestream-backend/internal/services"
	"coursestream-backend/internal/storage"
	"coursestream-backend/internal/transcode"
	"coursestream-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting CourseStream Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 5: Initialize Object Store ────
	store, err := storage.NewS3Store(context.Background(), cfg.S3Bucket, cfg.S3Region, cfg.PublicBaseURL)
	if err != nil {
		log.Fatalf("✗ S3 client initialization failed: %v", err)
	}
	log.Println("✓ Object store initialized")

	// ──── Initialize Repositories ────
	videoRepo := repository.NewVideoRepo(pool)
	thumbRepo := repository.NewThumbnailRepo(pool)
	tokenRepo := repository.NewTokenRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.TokenSecret)
	jobQueue := queue.New(redisClients.Queue)
	entitlements := services.NewPostgresEntitlements(pool)
	tokenService := services.NewTokenService(tokenRepo, videoRepo, entitlements, cfg.TokenSecret, cfg.TokenTTL)
	engine := transcode.NewFFmpegEngine(cfg.FFmpegPath, cfg.FFprobePath, store, cfg.SegmentSeconds)
	publisher := events.NewPublisher(redisClients.PubSub)

	// ──── Initialize Handlers ────
	videoHandler := handlers.NewVideoHandler(videoRepo, thumbRepo, jobQueue, store, tokenService, cfg.S3Bucket, cfg.MaxUploadBytes)
	streamHandler := handlers.NewStreamHandler(tokenService, videoRepo, store)

	// ──── Step 6: Start Worker Pool ────
	workerPool := worker.NewPool(
		jobQueue,
		store,
		engine,
		videoRepo,
		thumbRepo,
		tokenService,
		publisher,
		cfg.ScratchDir,
		cfg.ThumbnailInterval,
		cfg.WorkerCount,
	)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	// ──── Step 7: Start Maintenance Scheduler ────
	scheduler := cron.New()
	scheduler.AddFunc("@hourly", func() {
		if n, err := tokenService.SweepExpired(context.Background()); err != nil {
			log.Printf("Token sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("Swept %d expired tokens", n)
		}
	})
	scheduler.AddFunc("@daily", func() {
		if err := tokenService.RotateDueKeys(context.Background()); err != nil {
			log.Printf("Scheduled key rotation failed: %v", err)
		}
	})
	scheduler.Start()
	log.Println("✓ Maintenance scheduler started")

	// ──── Step 8: Start WebSocket Hub ────
	wsHub := events.NewHub(redisClients.PubSub, cfg.TokenSecret)
	log.Println("✓ WebSocket hub started")

	// ──── Step 9: Start HTTP Server ────
	r := router.New(jwtAuth, videoHandler, streamHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Minute, // Large uploads stream through this server
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ CourseStream Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
