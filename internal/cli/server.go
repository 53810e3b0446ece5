package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course-survey-service/internal/app"
	"course-survey-service/internal/config"
	"course-survey-service/internal/infra/postgres"
	rediscache "course-survey-service/internal/infra/redis"
	"course-survey-service/internal/infra/sqlite"
	transport "course-survey-service/internal/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the survey server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.TTLDuration(cfg.Survey.CacheTTL, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
		store = rediscache.NewCache(client, store, ttl)
	}

	service := app.NewSurveyService(store)
	handler := transport.NewHandler(service, store, transport.Options{
		AdminUsername:         adminCredential(cfg.Admin.Username, "ADMIN_USERNAME", "admin"),
		AdminPassword:         adminCredential(cfg.Admin.Password, "ADMIN_PASSWORD", "admin"),
		BaseURL:               cfg.App.BaseURL,
		SubmissionWindowHours: cfg.Survey.SubmissionLimitHours,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting survey service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore picks the persistence backend: postgres when a URL is
// configured, sqlite otherwise.
func openStore(ctx context.Context, cfg config.Config) (app.Store, error) {
	if cfg.Postgres.URL != "" {
		return postgres.Connect(ctx, cfg.Postgres.URL)
	}
	file := cfg.SQLite.File
	if file == "" {
		file = "data/surveys.db"
	}
	return sqlite.Open(file)
}

// adminCredential resolves a credential from config, then environment,
// then a development default.
func adminCredential(fromConfig, envKey, fallback string) string {
	if fromConfig != "" {
		return fromConfig
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return fallback
}
