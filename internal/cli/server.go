package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pginfra "quizroom-service/internal/infra/postgres"
	redisinfra "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/logging"
	"quizroom-service/internal/room"
	transport "quizroom-service/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := logging.New()

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

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var store app.Store
	var loader memory.QuizLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()

		store = pginfra.NewStore(db)
		loader = pginfra.NewQuizLoader(pool)
	} else {
		memStore := memory.NewStore()
		seedDemoSession(memStore)
		store = memStore
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
		log.Warn().Msg("postgres not configured; using in-memory store with demo data")
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizRepository
	if redisClient != nil {
		quizzes = redisinfra.NewQuizCache(redisClient, loader, quizTTL)
	} else {
		quizzes = memory.NewQuizCache(loader, quizTTL)
	}

	rooms := room.NewChannel()
	coordinator := app.NewCoordinator(store, quizzes, rooms, log)

	presence := app.NewPresence(
		coordinator,
		config.Duration(cfg.Presence.SweepInterval, 10*time.Second),
		config.Duration(cfg.Presence.Timeout, 15*time.Second),
		log,
	)
	sweeper := app.NewSweeper(
		coordinator,
		config.Duration(cfg.Sweeper.FlushInterval, 30*time.Second),
		log,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go presence.Run(runCtx)
	go sweeper.Run(runCtx)

	wsHandler := transport.NewWSHandler(coordinator, rooms, presence, log)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz session server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	cancel()
	coordinator.FlushScores(context.Background())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoSession wires a playable session for the in-memory setup.
func seedDemoSession(store *memory.Store) {
	store.SeedSession(domain.Session{
		ID:     "session-1",
		QuizID: "quiz-1",
		HostID: "host-1",
		Status: domain.StatusWaiting,
	})
}

// sampleQuizzes provides minimal quiz data for running without Postgres.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:      "quiz-1",
			OwnerID: "host-1",
			Questions: []domain.Question{
				{
					Prompt:  "What is 2 + 2?",
					Options: []string{"3", "4", "5"},
					Answer:  "4",
				},
				{
					Prompt: "Capital of France?",
					Answer: "Paris",
				},
			},
		},
	}
}
