package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/studysync/internal/authority"
	"github.com/mrlokans/studysync/internal/config"
	http_controllers "github.com/mrlokans/studysync/internal/http"
	"github.com/mrlokans/studysync/internal/logging"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Serve runs router on addr until SIGINT or SIGTERM, then shuts down within timeout.
func Serve(router *gin.Engine, addr string, timeout time.Duration, onShutdown ShutdownFunc) {
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server at %s", addr)
		// service connections
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server.
	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server Shutdown: %v", err)
	}

	// Background workers stop after the server so in-flight requests can
	// still record actions.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	log.Println("Server exiting")
}

// Run starts the sync engine and its operator API.
func Run(cfg *config.Config, version string) {
	closer := logging.Setup(cfg.Logging)
	defer closer.Close()

	log.Printf("Starting studysync v%s", version)

	engine, err := NewEngine(cfg, true)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start sync engine: %v", err)
	}
	log.Printf("Remote authority: %s", cfg.Remote.BaseURL)

	router := http_controllers.NewRouter(engine.RouterConfig(version))

	onShutdown := func(ctx context.Context) {
		engine.Stop(ctx)
		cancel()
	}

	Serve(router, fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port), shutdownTimeout(cfg), onShutdown)
}

// RunAuthority starts the reference remote authority.
func RunAuthority(cfg *config.Config) {
	closer := logging.Setup(cfg.Logging)
	defer closer.Close()

	store, err := authority.OpenStore(cfg.Authority.RedisURL)
	if err != nil {
		log.Fatalf("Failed to open authority store: %v", err)
	}
	defer store.Close()

	if cfg.Authority.SeedPath != "" {
		seed, err := authority.LoadSeed(cfg.Authority.SeedPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = seed.Apply(ctx, store)
		cancel()
		if err != nil {
			log.Fatalf("Failed to seed authority: %v", err)
		}
		log.Printf("[AUTHORITY] Seeded %d quizzes and %d flashcards", len(seed.Quizzes), len(seed.Flashcards))
	}
	if cfg.Authority.Token == "" {
		log.Printf("WARNING: AUTHORITY_TOKEN is not set, the authority accepts unauthenticated requests")
	}

	router := authority.NewRouter(store, cfg.Authority.Token)
	Serve(router, fmt.Sprintf("%s:%d", cfg.Authority.Host, cfg.Authority.Port), shutdownTimeout(cfg), nil)
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second
}
