package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quizgen/internal/domain"
	"quizgen/internal/domain/jsoncfg"
)

func newTestJob(id string, createdAt time.Time) *domain.GenerationJob {
	expires := createdAt.Add(time.Hour)
	return &domain.GenerationJob{
		ID:         id,
		UserID:     "user-1",
		DocumentID: "doc-1",
		Status:     domain.JobStatusPending,
		Params: jsoncfg.GenerationParams{
			QuestionCounts: map[jsoncfg.QuestionType]int{jsoncfg.QuestionTypeMCQSingle: 2},
			Difficulty:     jsoncfg.DifficultyMedium,
			Scope:          jsoncfg.QuizScopeConsolidated,
		},
		TotalChunks:            3,
		EstimatedTimeSeconds:   36,
		BillingState:           domain.BillingStateReserved,
		BillingReservationID:   "res-" + id,
		BillingEstimatedTokens: 1000,
		ReservationExpiresAt:   &expires,
		CreatedAt:              createdAt,
		UpdatedAt:              createdAt,
	}
}

func jobStores(t *testing.T) map[string]domain.JobStore {
	t.Helper()
	sqliteRepo, err := NewSQLiteJobRepository(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJobRepository: %v", err)
	}
	t.Cleanup(func() { _ = sqliteRepo.Close() })
	return map[string]domain.JobStore{
		"memory": NewMemoryJobRepository(),
		"sqlite": sqliteRepo,
	}
}

func TestJobStoreRoundTrip(t *testing.T) {
	for name, store := range jobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
			if err := store.Create(ctx, newTestJob("job-1", created)); err != nil {
				t.Fatalf("Create: %v", err)
			}
			got, err := store.Get(ctx, "job-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.BillingReservationID != "res-job-1" || got.BillingEstimatedTokens != 1000 {
				t.Fatalf("billing fields not persisted: %+v", got)
			}
			if got.Params.QuestionCounts[jsoncfg.QuestionTypeMCQSingle] != 2 {
				t.Fatalf("params not persisted: %+v", got.Params)
			}
			if got.ReservationExpiresAt == nil || !got.ReservationExpiresAt.Equal(created.Add(time.Hour)) {
				t.Fatalf("ReservationExpiresAt = %v", got.ReservationExpiresAt)
			}
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestJobStoreWithJobForUpdate(t *testing.T) {
	for name, store := range jobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, newTestJob("job-1", time.Now().UTC())); err != nil {
				t.Fatalf("Create: %v", err)
			}

			err := store.WithJobForUpdate(ctx, "job-1", func(job *domain.GenerationJob) error {
				job.SetIdempotencyKey(domain.BillingOpCommit, "job-1:commit")
				job.BillingState = domain.BillingStateCommitted
				job.BillingCommittedTokens = 700
				return nil
			})
			if err != nil {
				t.Fatalf("WithJobForUpdate: %v", err)
			}
			got, _ := store.Get(ctx, "job-1")
			if key, ok := got.IdempotencyKey(domain.BillingOpCommit); !ok || key != "job-1:commit" {
				t.Fatalf("commit key = %q", key)
			}
			if got.BillingState != domain.BillingStateCommitted || got.BillingCommittedTokens != 700 {
				t.Fatalf("update not saved: %+v", got)
			}

			abort := errors.New("abort")
			err = store.WithJobForUpdate(ctx, "job-1", func(job *domain.GenerationJob) error {
				job.LastBillingError = "should not persist"
				return abort
			})
			if !errors.Is(err, abort) {
				t.Fatalf("err = %v, want abort", err)
			}
			got, _ = store.Get(ctx, "job-1")
			if got.LastBillingError != "" {
				t.Fatalf("aborted update persisted: %q", got.LastBillingError)
			}

			called := false
			err = store.WithJobForUpdate(ctx, "missing", func(*domain.GenerationJob) error {
				called = true
				return nil
			})
			if !errors.Is(err, domain.ErrNotFound) || called {
				t.Fatalf("missing job: err = %v, called = %v", err, called)
			}
		})
	}
}

func TestJobStoreClaimNextPending(t *testing.T) {
	for name, store := range jobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().UTC().Add(-time.Hour)
			fresh := time.Now().UTC()
			_ = store.Create(ctx, newTestJob("job-old", old))
			_ = store.Create(ctx, newTestJob("job-fresh", fresh))

			job, err := store.ClaimNextPending(ctx, time.Minute)
			if err != nil {
				t.Fatalf("ClaimNextPending: %v", err)
			}
			if job.ID != "job-old" || job.Status != domain.JobStatusProcessing {
				t.Fatalf("claimed %s (%s), want job-old PROCESSING", job.ID, job.Status)
			}
			if _, err := store.ClaimNextPending(ctx, time.Minute); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("second claim err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestJobStoreListBillingStuck(t *testing.T) {
	for name, store := range jobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stuck := newTestJob("job-stuck", time.Now().UTC().Add(-time.Minute))
			stuck.Status = domain.JobStatusCompleted
			_ = store.Create(ctx, stuck)
			_ = store.Create(ctx, newTestJob("job-running", time.Now().UTC()))

			jobs, err := store.ListBillingStuck(ctx, 10)
			if err != nil {
				t.Fatalf("ListBillingStuck: %v", err)
			}
			if len(jobs) != 1 || jobs[0].ID != "job-stuck" {
				t.Fatalf("ListBillingStuck = %+v", jobs)
			}
		})
	}
}

func TestMemoryJobRepositorySerializesSameJob(t *testing.T) {
	store := NewMemoryJobRepository()
	ctx := context.Background()
	_ = store.Create(ctx, newTestJob("job-1", time.Now().UTC()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithJobForUpdate(ctx, "job-1", func(job *domain.GenerationJob) error {
				job.ProcessedChunks++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "job-1")
	if got.ProcessedChunks != 50 {
		t.Fatalf("ProcessedChunks = %d, want 50", got.ProcessedChunks)
	}
}
