package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/content"
	"quiz-attempt-engine/internal/outbox"
	"quiz-attempt-engine/internal/remote"
	"quiz-attempt-engine/internal/session"
	"quiz-attempt-engine/internal/snapshot"
	"quiz-attempt-engine/internal/store"
	memorystore "quiz-attempt-engine/internal/store/memory"
	pgstore "quiz-attempt-engine/internal/store/postgres"
	redisstore "quiz-attempt-engine/internal/store/redis"
	sqlitestore "quiz-attempt-engine/internal/store/sqlite"
	transport "quiz-attempt-engine/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewServeCmd builds the CLI subcommand to run the engine's gateway.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the attempt engine gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	local, cleanup := openLocalStore(ctx, cfg)
	defer cleanup()

	client := remote.NewClient(cfg.Remote.BaseURL, nil)

	quizTTL := config.TTLDuration(cfg.Cache.QuizTTL, content.DefaultQuizTTL)
	listingTTL := config.TTLDuration(cfg.Cache.ListingTTL, content.DefaultListingTTL)
	cache := content.NewCache(local, client, content.WithTTLs(quizTTL, listingTTL))

	snapshotTTL := config.TTLDuration(cfg.Snapshot.TTL, snapshot.DefaultTTL)
	snapshots := snapshot.NewManager(local, snapshot.WithTTL(snapshotTTL))

	engine := outbox.NewEngine(local, client)

	saveInterval := config.TTLDuration(cfg.Snapshot.SaveInterval, 30*time.Second)
	service := app.NewService(client, engine, snapshots, cache, session.WithSaveInterval(saveInterval))

	// Drain anything queued by a previous run before accepting connections.
	if err := service.FlushPending(ctx); err != nil {
		log.Printf("startup flush left pending submissions: %v", err)
	}

	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting attempt engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down engine...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down engine...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	service.Shutdown(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

// openLocalStore builds the configured durable store. Unreachable backends
// degrade to the in-memory store so attempts can still run.
func openLocalStore(ctx context.Context, cfg config.Config) (store.LocalStore, func()) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, storage degraded to memory: %v", err)
			_ = client.Close()
			return memorystore.NewStore(), func() {}
		}
		s := redisstore.NewStore(client)
		return s, func() { _ = s.Close() }
	case "postgres":
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			log.Printf("postgres unavailable, storage degraded to memory: %v", err)
			return memorystore.NewStore(), func() {}
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Printf("postgres unavailable, storage degraded to memory: %v", err)
			return memorystore.NewStore(), func() {}
		}
		s := pgstore.NewStore(pool)
		return s, func() { _ = s.Close() }
	case "memory":
		return memorystore.NewStore(), func() {}
	default:
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "attempt-store.db"
		}
		s, err := sqlitestore.Open(path)
		if err != nil {
			log.Printf("sqlite unavailable, storage degraded to memory: %v", err)
			return memorystore.NewStore(), func() {}
		}
		return s, func() { _ = s.Close() }
	}
}
