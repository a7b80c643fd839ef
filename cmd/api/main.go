package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/atlascall/sales-copilot/backend/internal/config"
	"github.com/atlascall/sales-copilot/backend/internal/handler"
	"github.com/atlascall/sales-copilot/backend/internal/ingest"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/ai"
	"github.com/atlascall/sales-copilot/backend/internal/service/archive"
	"github.com/atlascall/sales-copilot/backend/internal/service/coach"
	"github.com/atlascall/sales-copilot/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store := session.NewStore(cfg.Coach.SessionCapacity)
	pub := publisher.New()

	// Initialize the AI suggestion backend
	var generator coach.Generator = coach.DisabledGenerator{}
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing with fallback suggestions only")
		} else {
			generator = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, serving fallback suggestions only")
	}

	dispatcher := coach.NewDispatcher(store, generator, pub, coach.Options{
		Debounce:     cfg.Coach.Debounce,
		Timeout:      cfg.Coach.Timeout,
		RetryBackoff: cfg.Coach.RetryBackoff,
		Window:       cfg.Coach.HistoryWindow,
	})
	adapter := ingest.NewAdapter(store, pub, dispatcher)

	// Initialize the call archive when Redis is configured
	var archiver *archive.Archiver
	if cfg.Archive.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Archive.Addr,
			Password: cfg.Archive.Password,
			DB:       cfg.Archive.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("warning: redis unreachable at %s: %v", cfg.Archive.Addr, err)
			log.Println("continuing without call archive")
		} else {
			archiver = archive.NewArchiver(client, cfg.Archive.TTL)
			defer archiver.Close()
			log.Println("Call archive initialized successfully")
		}
	} else {
		log.Println("REDIS_ADDR not configured, skipping call archive")
	}

	router := handler.NewRouter(store, dispatcher, adapter, archiver, pub)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Sales copilot backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
