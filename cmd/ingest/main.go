package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"quizgen/internal/bootstrap"
	"quizgen/internal/infra"
	"quizgen/internal/storage"
)

func main() {
	var (
		dirFlag   string
		fileFlag  string
		docFlag   string
		charsFlag int
	)

	flag.StringVar(&dirFlag, "dir", "", "directory holding .txt, .md and .pdf documents")
	flag.StringVar(&fileFlag, "file", "", "ingest a single document, relative to -dir")
	flag.StringVar(&docFlag, "doc", "", "document ID for -file (defaults to the path without extension)")
	flag.IntVar(&charsFlag, "chunk-chars", storage.DefaultChunkChars, "maximum characters per chunk")
	flag.Parse()

	dir := strings.TrimSpace(dirFlag)
	if dir == "" {
		exitWithError(errors.New("-dir is required"))
	}
	file := strings.TrimSpace(fileFlag)
	docID := strings.TrimSpace(docFlag)
	if docID != "" && file == "" {
		exitWithError(errors.New("-doc requires -file"))
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFileStore(dir)
	if err != nil {
		exitWithError(err)
	}
	keys := []string{file}
	if file == "" {
		if keys, err = store.List(ctx); err != nil {
			exitWithError(err)
		}
	}

	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "ingest").Logger()
	components, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to initialise dependencies: %w", err))
	}
	defer components.Close()

	total := 0
	for _, key := range keys {
		text, err := store.ReadText(ctx, key)
		if err != nil {
			exitWithError(err)
		}
		id := docID
		if id == "" {
			id = storage.DocumentID(key)
		}
		chunks := storage.SplitDocument(id, text, charsFlag)
		if len(chunks) == 0 {
			fmt.Printf("%s %s skipped (empty)\n", key, id)
			continue
		}
		if err := components.Chunks.PutChunks(ctx, chunks); err != nil {
			exitWithError(fmt.Errorf("failed to store %s: %w", key, err))
		}
		total += len(chunks)
		fmt.Printf("%s %s chunks=%d\n", key, id, len(chunks))
	}
	fmt.Printf("documents=%d chunks=%d\n", len(keys), total)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
