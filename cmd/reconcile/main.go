package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quizgen/internal/bootstrap"
	"quizgen/internal/generation"
	"quizgen/internal/infra"
)

func main() {
	var (
		jobFlag   string
		limitFlag int
		watchFlag bool
	)

	flag.StringVar(&jobFlag, "job", "", "reconcile a single job ID")
	flag.IntVar(&limitFlag, "limit", 0, "maximum stuck jobs per pass (defaults to RECONCILE_BATCH)")
	flag.BoolVar(&watchFlag, "watch", false, "keep reconciling every RECONCILE_INTERVAL_SECONDS")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	if !cfg.BillingEnabled() {
		exitWithError(errors.New("BILLING_BASE_URL is required to reconcile reservations"))
	}
	jobID := strings.TrimSpace(jobFlag)
	if jobID != "" && watchFlag {
		exitWithError(errors.New("-job and -watch cannot be combined"))
	}
	limit := limitFlag
	if limit <= 0 {
		limit = cfg.ReconcileBatch
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "reconcile").Logger()
	components, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to initialise dependencies: %w", err))
	}
	defer components.Close()
	svc := components.Service(cfg, nil, logger)

	if jobID != "" {
		outcome, err := svc.Reconcile(ctx, jobID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to reconcile job %s: %w", jobID, err))
		}
		fmt.Printf("%s %s\n", jobID, outcome)
		return
	}

	for {
		if err := reconcilePass(ctx, svc, limit); err != nil {
			if !watchFlag {
				exitWithError(err)
			}
			logger.Error().Err(err).Msg("reconcile: pass failed")
		}
		if !watchFlag {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.ReconcileInterval):
		}
	}
}

func reconcilePass(ctx context.Context, svc *generation.Service, limit int) error {
	outcomes, err := svc.ReconcileStuck(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list stuck jobs: %w", err)
	}
	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	failed := 0
	for _, id := range ids {
		if outcomes[id].Kind == generation.OutcomeFailed {
			failed++
		}
		fmt.Printf("%s %s\n", id, outcomes[id])
	}
	fmt.Printf("reconciled=%d failed=%d\n", len(ids), failed)
	return nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
