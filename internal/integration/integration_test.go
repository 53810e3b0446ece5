package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"course-survey-service/internal/app"
	"course-survey-service/internal/domain"
	"course-survey-service/internal/identity"
	"course-survey-service/internal/infra/postgres"
	rediscache "course-survey-service/internal/infra/redis"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSubmissionFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	pgStore, err := postgres.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pgStore.Close()
	if err := pgStore.Init(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	store := rediscache.NewCache(redisClient, pgStore, 5*time.Minute)
	service := app.NewSurveyService(store)

	id, err := service.Upload(ctx, sampleDocument())
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := service.SetPublished(ctx, id, true); err != nil {
		t.Fatalf("publish: %v", err)
	}

	submissions := []struct {
		client string
		answer string
		lang   string
	}{
		{"client-1", "a", domain.LanguageZH},
		{"client-2", "b", domain.LanguageZH},
		{"client-3", "b", domain.LanguageJA},
	}
	for _, sub := range submissions {
		result, err := service.Submit(ctx, id, identity.ClientID(sub.client), map[string]string{"q1": sub.answer}, sub.lang)
		if err != nil {
			t.Fatalf("submit %s: %v", sub.client, err)
		}
		if !result.FirstTime {
			t.Fatalf("expected %s to be a first submission", sub.client)
		}
	}

	// A repeat is scored but not recorded.
	repeat, err := service.Submit(ctx, id, identity.ClientID("client-1"), map[string]string{"q1": "b"}, domain.LanguageZH)
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if repeat.FirstTime || !strings.HasPrefix(repeat.SubmissionID, "temp-") {
		t.Fatalf("expected synthetic repeat, got %+v", repeat)
	}

	report, err := service.Stats(ctx, id)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if report.Stats.Total != 3 {
		t.Fatalf("expected 3 counted submissions, got %d", report.Stats.Total)
	}
	if diff := report.Stats.AvgScore - 2.0/3.0; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected avg 2/3, got %v", report.Stats.AvgScore)
	}
	if len(report.QuestionStats) != 1 {
		t.Fatalf("expected one question aggregate")
	}
	q := report.QuestionStats[0]
	if q.OptionCounts["a"] != 1 || q.OptionCounts["b"] != 2 || q.CorrectCount != 2 {
		t.Fatalf("unexpected aggregate: %+v", q)
	}

	// The redis marker answers the gate even before hitting postgres.
	submitted, err := service.HasSubmitted(ctx, id, identity.ClientID("client-2"))
	if err != nil || !submitted {
		t.Fatalf("expected client-2 to be marked submitted, err=%v", err)
	}

	if err := service.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := service.GetSurvey(ctx, id); err != domain.ErrSurveyNotFound {
		t.Fatalf("expected survey gone after delete, got %v", err)
	}
	subs, err := pgStore.GetSurveySubmissions(ctx, id, 10, 0)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected submissions removed with the survey")
	}
}

func sampleDocument() domain.SurveyDocument {
	return domain.SurveyDocument{
		Title: domain.Localized{ZH: "课程反馈", JA: "コース調査"},
		Questions: []domain.Question{
			{
				ID:      "q1",
				Type:    domain.QuestionTypeSingleChoice,
				Content: domain.Localized{ZH: "问题一", JA: "質問一"},
				Options: []domain.Option{
					{ID: "a", Text: domain.Localized{ZH: "甲", JA: "ア"}},
					{ID: "b", Text: domain.Localized{ZH: "乙", JA: "イ"}},
				},
				CorrectOption: "b",
				Explanation:   domain.Localized{ZH: "解析", JA: "解説"},
			},
		},
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "survey", "POSTGRES_PASSWORD": "surveypass", "POSTGRES_DB": "surveydb"},
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
	dsn := fmt.Sprintf("postgres://survey:surveypass@%s:%s/surveydb?sslmode=disable", host, port.Port())
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
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
