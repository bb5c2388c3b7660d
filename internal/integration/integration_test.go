package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	pginfra "quizroom-service/internal/infra/postgres"
	pgmigrations "quizroom-service/internal/infra/postgres/migrations"
	redisinfra "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/room"
)

func TestFullGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(pgURL)
	defer db.Close()
	seedData(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	store := pginfra.NewStore(db)
	quizzes := redisinfra.NewQuizCache(redisClient, pginfra.NewQuizLoader(pool), 5*time.Minute)
	rooms := room.NewChannel()
	coord := app.NewCoordinator(store, quizzes, rooms, zerolog.Nop())

	if _, err := coord.Join(ctx, "s1", "u1"); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if _, err := coord.Join(ctx, "s1", "u2"); err != nil {
		t.Fatalf("join u2: %v", err)
	}
	if err := coord.Start(ctx, "s1", "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coord.StartQuestion(ctx, "s1", "host"); err != nil {
		t.Fatalf("start question: %v", err)
	}

	if _, err := coord.ActivateBonus(ctx, "s1", "u2"); err != nil {
		t.Fatalf("activate bonus: %v", err)
	}
	coord.SubmitAnswer(ctx, "s1", "u1", "4")
	coord.SubmitAnswer(ctx, "s1", "u2", "4")

	if err := coord.EndQuiz(ctx, "s1", "host"); err != nil {
		t.Fatalf("end quiz: %v", err)
	}

	sess, err := store.GetSession(ctx, "s1")
	if err != nil || sess.Status != domain.StatusFinished {
		t.Fatalf("expected finished session, got %+v err=%v", sess, err)
	}

	u1, ok, err := store.GetScore(ctx, "s1", "u1")
	if err != nil || !ok || u1.Score != 10 {
		t.Fatalf("expected u1 score 10, got %+v ok=%v err=%v", u1, ok, err)
	}
	u2, ok, err := store.GetScore(ctx, "s1", "u2")
	if err != nil || !ok || u2.Score != 20 {
		t.Fatalf("expected u2 doubled score 20, got %+v ok=%v err=%v", u2, ok, err)
	}
	bonus, ok, err := store.GetBonusState(ctx, "s1", "u2")
	if err != nil || !ok || bonus.Armed || bonus.Consumed != 1 {
		t.Fatalf("expected consumed bonus, got %+v ok=%v err=%v", bonus, ok, err)
	}
}

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func seedData(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	quiz := domain.Quiz{
		ID:      "quiz-1",
		OwnerID: "host",
		Questions: []domain.Question{
			{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Answer: "4"},
		},
	}
	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO sessions (id, quiz_id, host_id, status, current_question) VALUES ('s1', 'quiz-1', 'host', 'waiting', 0) ON CONFLICT (id) DO NOTHING`); err != nil {
		t.Fatalf("insert session: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
