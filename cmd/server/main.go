package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/shehryarbajwa/texbridge/internal/accounts"
	"github.com/shehryarbajwa/texbridge/internal/api"
	"github.com/shehryarbajwa/texbridge/internal/compile"
	"github.com/shehryarbajwa/texbridge/internal/engine"
	"github.com/shehryarbajwa/texbridge/internal/ratelimit"
	"github.com/shehryarbajwa/texbridge/internal/workspace"
)

const (
	pruneInterval = time.Hour
	workspaceTTL  = 24 * time.Hour
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("Starting TeXBridge compile server...")

	// Initialize engine backend
	var runner engine.Runner
	switch cfg.Backend {
	case "docker":
		docker, err := engine.NewDockerRunner(cfg.TexImage)
		if err != nil {
			log.Fatalf("Failed to create Docker backend: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		log.Printf("⏳ Ensuring %s is available...", cfg.TexImage)
		if err := docker.EnsureImage(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure image: %v", err)
		}
		cancel()
		runner = docker
		log.Printf("✓ Docker backend ready (%s)", cfg.TexImage)
	default:
		runner = engine.NewExecRunner()
		log.Println("✓ Local TeX backend initialized")
	}
	defer runner.Close()

	// Initialize workspace manager
	workspaces, err := workspace.NewManager(cfg.CacheDir)
	if err != nil {
		log.Fatalf("Failed to create workspace manager: %v", err)
	}
	log.Printf("✓ Workspace cache at %s", cfg.CacheDir)

	// Initialize compile service
	svc := compile.NewService(runner, compile.Config{
		DefaultEngine: cfg.Engine,
		BibTeX:        cfg.BibTeX,
		Timeout:       cfg.CompileTimeout,
	})
	engines := svc.Engines(context.Background())
	if len(engines) == 0 {
		log.Println("⚠️  No LaTeX engine found, every compile will fail")
	}
	log.Printf("✓ Compile service initialized (engines: %v)", engines)

	// Initialize rate limiter
	rateLimiter := ratelimit.NewLimiter(cfg.RequestsPerHour, cfg.RateBurst)
	log.Printf("✓ Rate limiter initialized (%d req/hour per project)", cfg.RequestsPerHour)

	// Initialize mock entitlement backend
	var accountHandler *api.AccountHandler
	if cfg.AccountsFile != "" {
		store, err := accounts.Load(cfg.AccountsFile)
		if err != nil {
			log.Fatalf("Failed to load accounts: %v", err)
		}
		accountHandler = api.NewAccountHandler(store)
		log.Printf("✓ Account backend initialized (%d accounts)", store.Len())
	}

	// Setup HTTP handlers
	handler := api.NewHandler(workspaces, svc, cfg.IsCloud)
	router := handler.SetupRoutes(accountHandler, rateLimiter, api.RouteConfig{
		AuthToken:       cfg.authToken(),
		MaxRequestSize:  cfg.MaxRequestSize,
		RequestsPerHour: cfg.RequestsPerHour,
	})
	log.Println("✓ HTTP routes configured")

	// Create HTTP server. Compiles run long, so the write timeout follows
	// the compile timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: cfg.CompileTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	stopPrune := make(chan struct{})
	go prune(rateLimiter, workspaces, stopPrune)

	// Start server in background
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
		if cfg.IsCloud {
			log.Println("☁️  Cloud mode")
		}
		if cfg.authToken() != "" {
			log.Println("🔒 Bearer token required on compile routes")
		}
		log.Printf("📦 Max request size: %s", humanize.IBytes(uint64(cfg.MaxRequestSize)))
		log.Printf("⏱️  Compile timeout: %s", cfg.CompileTimeout)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("\n⏳ Shutting down server gracefully...")
	close(stopPrune)

	// Shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped cleanly")
}

// prune drops idle rate limit buckets and stale workspaces
func prune(limiter *ratelimit.Limiter, workspaces *workspace.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			buckets := limiter.Prune(pruneInterval)
			dirs := workspaces.Prune(workspaceTTL)
			if buckets > 0 || dirs > 0 {
				log.Printf("🧹 Pruned %d rate limit buckets and %d workspaces", buckets, dirs)
			}
		case <-stop:
			return
		}
	}
}
