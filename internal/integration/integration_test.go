package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/content"
	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/outbox"
	"quiz-attempt-engine/internal/remote"
	"quiz-attempt-engine/internal/session"
	"quiz-attempt-engine/internal/snapshot"
	redisstore "quiz-attempt-engine/internal/store/redis"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// quizBackend is a stand-in for the remote quiz platform with a switchable
// network condition.
type quizBackend struct {
	mu      sync.Mutex
	online  bool
	answers int
	done    int
}

func (b *quizBackend) setOnline(online bool) {
	b.mu.Lock()
	b.online = online
	b.mu.Unlock()
}

func (b *quizBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/attempts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.AttemptStart{
			AttemptID:        "attempt-1",
			QuizID:           "quiz-1",
			Title:            "Geometry",
			TimeLimitMinutes: 10,
			Questions: []domain.Question{
				{ID: "q1", Prompt: "Angles of a triangle sum to?", Options: []domain.Option{{Text: "90"}, {Text: "180"}}},
			},
		})
	})
	mux.HandleFunc("/attempts/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.online {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/answers"):
			b.answers++
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/complete"):
			b.done++
			_ = json.NewEncoder(w).Encode(domain.AttemptResult{Score: 100, CorrectAnswers: 1, TotalQuestions: 1})
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/quizzes/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.QuizInfo{QuizID: "quiz-1", Title: "Geometry", QuestionCount: 1})
	})
	return mux
}

func (b *quizBackend) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.answers, b.done
}

// An attempt completed offline must survive a process restart in the durable
// store and drain once connectivity returns.
func TestOfflineAttemptSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	backend := &quizBackend{online: true}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	local := redisstore.NewStore(redisClient)
	client := remote.NewClient(server.URL, nil)
	snapshots := snapshot.NewManager(local)
	service := app.NewService(client, outbox.NewEngine(local, client), snapshots,
		content.NewCache(local, client), session.WithTickInterval(time.Millisecond))

	sess, err := service.StartSession(ctx, session.StartParams{QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// Connectivity drops before anything is submitted.
	backend.setOnline(false)

	if err := sess.SelectAnswer(1); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := sess.ConfirmSubmit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	result, ok := sess.Result()
	if !ok || !result.Pending {
		t.Fatalf("expected pending result while offline, got %+v ok=%v", result, ok)
	}
	service.Shutdown(ctx)

	state := service.SyncState(ctx)
	if state.PendingAnswers != 1 || state.PendingCompletions != 1 {
		t.Fatalf("expected 1 answer and 1 completion queued, got %+v", state)
	}

	// Simulate a restart: fresh engine over the same durable store.
	backend.setOnline(true)
	restarted := app.NewService(client, outbox.NewEngine(local, client), snapshots, content.NewCache(local, client))
	if err := restarted.FlushPending(ctx); err != nil {
		t.Fatalf("flush after restart: %v", err)
	}

	answers, done := backend.counts()
	if answers != 1 || done != 1 {
		t.Fatalf("expected queued submissions delivered, got answers=%d done=%d", answers, done)
	}
	if state := restarted.SyncState(ctx); !state.Synced {
		t.Fatalf("expected empty queues after flush, got %+v", state)
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
