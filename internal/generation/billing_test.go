package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quizgen/internal/adapter/repo"
	"quizgen/internal/billing"
	"quizgen/internal/domain"
)

func TestCommitCapsAtReservedAmount(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.estimator.output = 1500
	id := env.start(t)

	res := env.completeJob(t, id)
	if res.Billing.Kind != OutcomeCommitted {
		t.Fatalf("billing outcome = %s", res.Billing)
	}
	job := env.job(t, id)
	if job.BillingState != domain.BillingStateCommitted {
		t.Fatalf("BillingState = %s", job.BillingState)
	}
	if job.BillingCommittedTokens != 1000 || job.ActualTokens != 1500 || !job.WasCappedAtReserved {
		t.Fatalf("committed=%d actual=%d capped=%v", job.BillingCommittedTokens, job.ActualTokens, job.WasCappedAtReserved)
	}
	if commits := env.ledger.callsFor("commit"); len(commits) != 1 || commits[0].amount != 1000 {
		t.Fatalf("commit calls = %+v", commits)
	}
	if releases := env.ledger.callsFor("release"); len(releases) != 0 {
		t.Fatalf("expected no release, got %+v", releases)
	}
}

func TestCommitReleasesRemainderOnUnderUsage(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.estimator.output = 700
	id := env.start(t)

	env.completeJob(t, id)

	job := env.job(t, id)
	if job.BillingCommittedTokens != 700 || job.WasCappedAtReserved {
		t.Fatalf("committed=%d capped=%v", job.BillingCommittedTokens, job.WasCappedAtReserved)
	}
	releases := env.ledger.callsFor("release")
	if len(releases) != 1 {
		t.Fatalf("release calls = %+v", releases)
	}
	if releases[0].amount != 300 || releases[0].reason != billing.ReasonCommitRemainder {
		t.Fatalf("unexpected release %+v", releases[0])
	}
	if releases[0].key != id+":release" {
		t.Fatalf("release key = %q", releases[0].key)
	}
	if job.LastBillingError != "" {
		t.Fatalf("LastBillingError = %q", job.LastBillingError)
	}
}

func TestCommitSkipsRemainderWhenLedgerReleased(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.estimator.output = 700
	env.ledger.commitRelease = true
	id := env.start(t)

	env.completeJob(t, id)

	if releases := env.ledger.callsFor("release"); len(releases) != 0 {
		t.Fatalf("expected no explicit release, got %+v", releases)
	}
}

func TestCommitExactEstimateHasNoRemainder(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.estimator.output = 1000
	id := env.start(t)

	env.completeJob(t, id)

	job := env.job(t, id)
	if job.BillingCommittedTokens != 1000 || job.WasCappedAtReserved {
		t.Fatalf("committed=%d capped=%v", job.BillingCommittedTokens, job.WasCappedAtReserved)
	}
	if releases := env.ledger.callsFor("release"); len(releases) != 0 {
		t.Fatalf("expected no release, got %+v", releases)
	}
}

func TestCommitSkippedWhenReservationExpired(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.start(t)
	env.now = env.now.Add(2 * time.Hour)

	res := env.completeJob(t, id)

	if res.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED", res.Status)
	}
	if res.Billing.Kind != OutcomeSkipped {
		t.Fatalf("billing outcome = %s", res.Billing)
	}
	job := env.job(t, id)
	if job.BillingState != domain.BillingStateReserved {
		t.Fatalf("BillingState = %s, want RESERVED", job.BillingState)
	}
	if !strings.Contains(job.LastBillingError, "expired") {
		t.Fatalf("LastBillingError = %q", job.LastBillingError)
	}
	if n := len(env.ledger.callsFor("commit")) + len(env.ledger.callsFor("release")); n != 0 {
		t.Fatalf("expected no ledger calls, got %d", n)
	}
}

func TestCommitTwiceCallsLedgerOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.start(t)
	env.completeJob(t, id)

	outcome := env.svc.CommitTokensForSuccessfulGeneration(context.Background(), id, sampleResults().Questions())

	if outcome.Kind != OutcomeNoop {
		t.Fatalf("second commit outcome = %s", outcome)
	}
	if commits := env.ledger.callsFor("commit"); len(commits) != 1 {
		t.Fatalf("commit calls = %d, want 1", len(commits))
	}
}

func TestCommitFailureIsContained(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.commitErr = errors.New("ledger unavailable")
	id := env.start(t)

	res := env.completeJob(t, id)

	if res.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED", res.Status)
	}
	if res.Billing.Kind != OutcomeFailed {
		t.Fatalf("billing outcome = %s", res.Billing)
	}
	job := env.job(t, id)
	if job.BillingState != domain.BillingStateReserved {
		t.Fatalf("BillingState = %s", job.BillingState)
	}
	if key, ok := job.IdempotencyKey(domain.BillingOpCommit); !ok || key != id+":commit" {
		t.Fatalf("commit key = %q, %v", key, ok)
	}
	if !strings.Contains(job.LastBillingError, "ledger unavailable") {
		t.Fatalf("LastBillingError = %q", job.LastBillingError)
	}

	// A retried completion event must not reach the ledger again.
	env.svc.CommitTokensForSuccessfulGeneration(context.Background(), id, sampleResults().Questions())
	if commits := env.ledger.callsFor("commit"); len(commits) != 1 {
		t.Fatalf("commit calls = %d, want 1", len(commits))
	}
}

func TestCommitRejectsUnfinishedJob(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.start(t)
	if _, err := env.svc.MarkProcessing(context.Background(), id); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	outcome := env.svc.CommitTokensForSuccessfulGeneration(context.Background(), id, sampleResults().Questions())

	if outcome.Kind != OutcomeFailed || !errors.Is(outcome.Err, domain.ErrInvalidState) {
		t.Fatalf("outcome = %s", outcome)
	}
	if commits := env.ledger.callsFor("commit"); len(commits) != 0 {
		t.Fatalf("expected no commit, got %+v", commits)
	}
	if job := env.job(t, id); job.LastBillingError == "" {
		t.Fatal("expected LastBillingError to be recorded")
	}
}

func TestCommitUnknownJobMakesNoLedgerCall(t *testing.T) {
	env := newTestEnv(t, Config{})

	outcome := env.svc.CommitTokensForSuccessfulGeneration(context.Background(), "missing", nil)

	if outcome.Kind != OutcomeFailed || !errors.Is(outcome.Err, domain.ErrNotFound) {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(env.ledger.calls) != 0 {
		t.Fatalf("ledger calls = %+v", env.ledger.calls)
	}
}

func TestCommitWithBillingDisabled(t *testing.T) {
	store := repo.NewMemoryJobRepository()
	svc := NewService(Deps{
		Jobs:      store,
		Estimator: &fakeEstimator{tokens: 1000, output: 700},
		Documents: fakeDocuments{chunks: 1},
		Quizzes:   &fakeQuizWriter{},
	}, Config{}, zerolog.Nop())
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{UserID: "user-1", DocumentID: "doc-1", Params: testParams()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	job, _ := store.Get(ctx, started.JobID)
	if job.BillingState != domain.BillingStateNone || job.BillingReservationID != "" {
		t.Fatalf("billing state=%s reservation=%q", job.BillingState, job.BillingReservationID)
	}

	res, err := svc.OnGenerationCompleted(ctx, started.JobID, sampleResults(), testParams())
	if err != nil {
		t.Fatalf("OnGenerationCompleted: %v", err)
	}
	if res.Status != domain.JobStatusCompleted || res.Billing.Kind != OutcomeNoop {
		t.Fatalf("result = %+v", res)
	}
}

func TestCommittedNeverExceedsEstimate(t *testing.T) {
	for _, output := range []int64{0, 1, 999, 1000, 1001, 25000} {
		env := newTestEnv(t, Config{})
		env.estimator.output = output
		id := env.start(t)
		env.completeJob(t, id)

		job := env.job(t, id)
		if job.BillingState != domain.BillingStateCommitted {
			t.Fatalf("output %d: BillingState = %s", output, job.BillingState)
		}
		if job.BillingCommittedTokens > job.BillingEstimatedTokens {
			t.Fatalf("output %d: committed %d > estimated %d", output, job.BillingCommittedTokens, job.BillingEstimatedTokens)
		}
	}
}
