package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quizgen/internal/adapter/repo"
	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
	"quizgen/internal/estimation"
	"quizgen/internal/generation"
)

type stubDocuments struct {
	chunks []domain.Chunk
}

func (d stubDocuments) CountChunks(context.Context, string) (int, error) {
	return len(d.chunks), nil
}

func (d stubDocuments) ListChunks(context.Context, string) ([]domain.Chunk, error) {
	return d.chunks, nil
}

type stubQuizzes struct {
	mu    sync.Mutex
	saved []domain.Quiz
}

func (q *stubQuizzes) SaveQuizzes(_ context.Context, quizzes []domain.Quiz) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.saved = append(q.saved, quizzes...)
	return nil
}

type stubGenerator struct {
	fail   map[int]bool
	before func(chunk domain.Chunk)
}

func (g *stubGenerator) GenerateQuestions(_ context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if g.before != nil {
		g.before(req.Chunk)
	}
	if g.fail[req.Chunk.Index] {
		return nil, errors.New("provider error")
	}
	return &domain.GenerateResponse{
		Questions:   []domain.Question{{Type: jsoncfg.QuestionTypeTrueFalse, Text: "Is " + req.Chunk.Content + "?", Answers: []string{"true"}}},
		InputTokens: 50,
		Provider:    "stub",
	}, nil
}

type harness struct {
	svc       *generation.Service
	store     *repo.JobRepositoryMemory
	quizzes   *stubQuizzes
	generator *stubGenerator
	processor *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	docs := stubDocuments{chunks: []domain.Chunk{
		{DocumentID: "doc-1", Index: 0, Content: "water wet"},
		{DocumentID: "doc-1", Index: 1, Content: "fire hot"},
	}}
	h := &harness{
		store:     repo.NewMemoryJobRepository(),
		quizzes:   &stubQuizzes{},
		generator: &stubGenerator{},
	}
	h.svc = generation.NewService(generation.Deps{
		Jobs:      h.store,
		Estimator: estimation.New(estimation.Config{}),
		Documents: docs,
		Quizzes:   h.quizzes,
	}, generation.Config{}, zerolog.Nop())
	h.processor = NewProcessor(h.svc, docs, h.generator, zerolog.Nop())
	return h
}

func (h *harness) start(t *testing.T) string {
	t.Helper()
	res, err := h.svc.Start(context.Background(), generation.StartRequest{
		UserID:     "user-1",
		DocumentID: "doc-1",
		Params: jsoncfg.GenerationParams{
			QuestionCounts: map[jsoncfg.QuestionType]int{jsoncfg.QuestionTypeTrueFalse: 1},
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return res.JobID
}

func (h *harness) job(t *testing.T, id string) *domain.GenerationJob {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

func TestProcessCompletesJob(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)

	if err := h.processor.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}

	job := h.job(t, id)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED", job.Status)
	}
	if job.InputPromptTokens != 100 || !job.HasStartedAICalls {
		t.Fatalf("InputPromptTokens=%d HasStartedAICalls=%v", job.InputPromptTokens, job.HasStartedAICalls)
	}
	if len(h.quizzes.saved) != 1 || len(h.quizzes.saved[0].Questions) != 2 {
		t.Fatalf("saved quizzes = %+v", h.quizzes.saved)
	}
}

func TestProcessToleratesSingleChunkFailure(t *testing.T) {
	h := newHarness(t)
	h.generator.fail = map[int]bool{1: true}
	id := h.start(t)

	if err := h.processor.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	job := h.job(t, id)
	if job.Status != domain.JobStatusCompleted || len(h.quizzes.saved[0].Questions) != 1 {
		t.Fatalf("status=%s quizzes=%+v", job.Status, h.quizzes.saved)
	}
}

func TestProcessFailsWhenEveryChunkFails(t *testing.T) {
	h := newHarness(t)
	h.generator.fail = map[int]bool{0: true, 1: true}
	id := h.start(t)

	if err := h.processor.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	job := h.job(t, id)
	if job.Status != domain.JobStatusFailed || job.ErrorMessage == "" {
		t.Fatalf("status=%s error=%q", job.Status, job.ErrorMessage)
	}
}

func TestProcessStopsAfterCancel(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)
	h.generator.before = func(chunk domain.Chunk) {
		if chunk.Index == 0 {
			if _, err := h.svc.Cancel(context.Background(), id, "user-1"); err != nil {
				t.Errorf("Cancel: %v", err)
			}
		}
	}

	if err := h.processor.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	job := h.job(t, id)
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("Status = %s, want CANCELLED", job.Status)
	}
	if len(h.quizzes.saved) != 0 {
		t.Fatalf("quizzes saved for cancelled job")
	}
}

func TestProcessSkipsCancelledJob(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)
	if _, err := h.svc.Cancel(context.Background(), id, "user-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if err := h.processor.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if job := h.job(t, id); job.Status != domain.JobStatusCancelled || job.HasStartedAICalls {
		t.Fatalf("status=%s started=%v", job.Status, job.HasStartedAICalls)
	}
}

func TestPoolDispatchQueueFull(t *testing.T) {
	h := newHarness(t)
	pool := NewPool(h.processor, 1, 1, zerolog.Nop())

	if err := pool.Dispatch(context.Background(), "job-1"); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if err := pool.Dispatch(context.Background(), "job-2"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Dispatch err = %v", err)
	}
}

func TestPoolRunsDispatchedJob(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(h.processor, 2, 8, zerolog.Nop())
	h.svc.SetDispatcher(pool)
	pool.Start(ctx)

	id := h.start(t)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if job := h.job(t, id); job.Status == domain.JobStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not complete in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	pool.Wait()
}

func TestPollerClaimsStaleJob(t *testing.T) {
	h := newHarness(t)
	id := h.start(t)
	poller := NewPoller(h.store, h.processor, time.Millisecond, 0, zerolog.Nop())

	found, err := poller.PollOnce(context.Background())
	if err != nil || !found {
		t.Fatalf("PollOnce = %v, %v", found, err)
	}
	if job := h.job(t, id); job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s", job.Status)
	}

	found, err = poller.PollOnce(context.Background())
	if err != nil || found {
		t.Fatalf("second PollOnce = %v, %v", found, err)
	}
}
