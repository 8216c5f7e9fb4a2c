package generation

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
)

type ledgerCall struct {
	op     string
	amount int64
	reason string
	key    string
}

type fakeLedger struct {
	mu sync.Mutex

	reserveErr    error
	commitErr     error
	releaseErr    error
	expiresAt     time.Time
	commitRelease bool

	calls []ledgerCall
}

func (l *fakeLedger) Reserve(_ context.Context, req domain.ReserveRequest) (*domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ledgerCall{op: "reserve", amount: req.Amount})
	if l.reserveErr != nil {
		return nil, l.reserveErr
	}
	return &domain.Reservation{ID: "res-1", Amount: req.Amount, ExpiresAt: l.expiresAt}, nil
}

func (l *fakeLedger) Commit(_ context.Context, req domain.CommitRequest) (*domain.CommitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ledgerCall{op: "commit", amount: req.Amount, key: req.IdempotencyKey})
	if l.commitErr != nil {
		return nil, l.commitErr
	}
	res := &domain.CommitResult{Committed: req.Amount}
	if l.commitRelease {
		res.Released = 1
	}
	return res, nil
}

func (l *fakeLedger) Release(_ context.Context, req domain.ReleaseRequest) (*domain.ReleaseResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ledgerCall{op: "release", amount: req.Amount, reason: req.Reason, key: req.IdempotencyKey})
	if l.releaseErr != nil {
		return nil, l.releaseErr
	}
	return &domain.ReleaseResult{Released: req.Amount}, nil
}

func (l *fakeLedger) callsFor(op string) []ledgerCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledgerCall
	for _, c := range l.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// fakeEstimator reserves a fixed amount and reports a fixed actual usage on
// top of the recorded input tokens.
type fakeEstimator struct {
	tokens int64
	output int64
}

func (e *fakeEstimator) Estimate(_ context.Context, doc domain.DocumentRef, _ jsoncfg.GenerationParams) (domain.Estimate, error) {
	return domain.Estimate{Tokens: e.tokens, Seconds: doc.ChunkCount * 10}, nil
}

func (e *fakeEstimator) ActualTokens(questions []domain.Question, _ jsoncfg.Difficulty, inputTokens int64) int64 {
	if len(questions) == 0 {
		return inputTokens
	}
	return e.output + inputTokens
}

type fakeDocuments struct {
	chunks int
}

func (d fakeDocuments) CountChunks(context.Context, string) (int, error) {
	return d.chunks, nil
}

func (d fakeDocuments) ListChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, d.chunks)
	for i := range out {
		out[i] = domain.Chunk{DocumentID: documentID, Index: i, Content: "content"}
	}
	return out, nil
}

type fakeQuizWriter struct {
	mu    sync.Mutex
	err   error
	saved []domain.Quiz
}

func (w *fakeQuizWriter) SaveQuizzes(_ context.Context, quizzes []domain.Quiz) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.saved = append(w.saved, quizzes...)
	return nil
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, jobID)
	return nil
}

// failingCreateStore wraps a store and refuses to insert.
type failingCreateStore struct {
	domain.JobStore
}

func (failingCreateStore) Create(context.Context, *domain.GenerationJob) error {
	return errors.New("db down")
}

type testEnv struct {
	svc        *Service
	store      *repo.JobRepositoryMemory
	ledger     *fakeLedger
	estimator  *fakeEstimator
	quizzes    *fakeQuizWriter
	dispatcher *fakeDispatcher
	now        time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      repo.NewMemoryJobRepository(),
		ledger:     &fakeLedger{},
		estimator:  &fakeEstimator{tokens: 1000, output: 700},
		quizzes:    &fakeQuizWriter{},
		dispatcher: &fakeDispatcher{},
		now:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.ledger.expiresAt = env.now.Add(time.Hour)
	env.svc = NewService(Deps{
		Jobs:       env.store,
		Ledger:     env.ledger,
		Estimator:  env.estimator,
		Documents:  fakeDocuments{chunks: 2},
		Quizzes:    env.quizzes,
		Dispatcher: env.dispatcher,
	}, cfg, zerolog.Nop())
	env.svc.now = func() time.Time { return env.now }
	return env
}

func testParams() jsoncfg.GenerationParams {
	return jsoncfg.GenerationParams{
		QuestionCounts: map[jsoncfg.QuestionType]int{jsoncfg.QuestionTypeMCQSingle: 2},
		Difficulty:     jsoncfg.DifficultyMedium,
		Scope:          jsoncfg.QuizScopeConsolidated,
	}
}

func (env *testEnv) start(t *testing.T) string {
	t.Helper()
	res, err := env.svc.Start(context.Background(), StartRequest{UserID: "user-1", DocumentID: "doc-1", Params: testParams()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return res.JobID
}

func (env *testEnv) job(t *testing.T, id string) *domain.GenerationJob {
	t.Helper()
	job, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return job
}

func sampleResults() domain.ChunkResults {
	return domain.ChunkResults{
		0: {{Type: jsoncfg.QuestionTypeMCQSingle, Text: "q1", Answers: []string{"a"}}},
		1: {{Type: jsoncfg.QuestionTypeMCQSingle, Text: "q2", Answers: []string{"b"}}},
	}
}

// completeJob drives a started job to COMPLETED through the public API.
func (env *testEnv) completeJob(t *testing.T, id string) *CompletionResult {
	t.Helper()
	ctx := context.Background()
	if _, err := env.svc.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := env.svc.MarkAIStarted(ctx, id); err != nil {
		t.Fatalf("MarkAIStarted: %v", err)
	}
	res, err := env.svc.OnGenerationCompleted(ctx, id, sampleResults(), testParams())
	if err != nil {
		t.Fatalf("OnGenerationCompleted: %v", err)
	}
	return res
}
