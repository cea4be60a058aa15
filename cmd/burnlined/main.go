package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/burnline/burnline/internal/api"
	"github.com/burnline/burnline/internal/assemble"
	"github.com/burnline/burnline/internal/config"
	"github.com/burnline/burnline/internal/db"
	"github.com/burnline/burnline/internal/dispatch"
	"github.com/burnline/burnline/internal/queue"
	"github.com/burnline/burnline/internal/recovery"
	"github.com/burnline/burnline/internal/remote"
	"github.com/burnline/burnline/internal/renderer"
	"github.com/burnline/burnline/internal/retry"
	"github.com/burnline/burnline/internal/store"
	"github.com/burnline/burnline/internal/worker"
)

func main() {
	log.Println("Starting Burnline API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize the result store
	st := store.New(cfg.StoreURL, cfg.StoreServiceKey, cfg.StoreBucket)
	log.Printf("Initialized result store (bucket: %s)", cfg.StoreBucket)

	// Create API handler
	handler := api.NewHandler(database, q, st)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCtx context.Context
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		ffmpegSvc, err := renderer.NewFFmpeg(cfg.TempDir)
		if err != nil {
			log.Fatalf("Failed to initialize ffmpeg temp dir: %v", err)
		}
		localSvc := renderer.NewLocal(st, ffmpegSvc)

		// Remote backend, or straight-to-local when disabled
		var remoteSvc dispatch.RemoteRenderer
		if cfg.RenderEnabled {
			remoteSvc = remote.New(cfg.RenderEndpoint, cfg.RenderAPIKey,
				renderer.OutputWidth, renderer.OutputHeight, renderer.OutputFPS)
			log.Printf("Remote render backend: %s", cfg.RenderEndpoint)
		} else {
			remoteSvc = remote.Disabled{}
			log.Println("Remote rendering disabled, all segments render locally")
		}

		policy := retry.Default
		policy.MaxAttempts = cfg.RenderMaxAttempts

		opts := []dispatch.Option{
			dispatch.WithRetryPolicy(policy),
			dispatch.WithRemoteTimeout(cfg.RenderTimeout),
		}
		if cfg.LocalRenderSlots > 0 {
			opts = append(opts, dispatch.WithLocalSlots(cfg.LocalRenderSlots))
		}
		dispatcher := dispatch.New(remoteSvc, localSvc, st, opts...)

		recoveryCtl := recovery.New(st, dispatcher, cfg.AcceptThreshold)
		assembler := assemble.New(st, ffmpegSvc, assemble.GapPolicy(cfg.GapPolicy))

		w := worker.New(database, q, st, dispatcher, recoveryCtl, assembler)

		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, 1)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
