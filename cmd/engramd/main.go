// Command engramd runs the engram memory service: durable conversational
// memory with hybrid retrieval, a context compiler and reminder scheduling,
// exposed over a small HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/engram/internal/backup"
	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/embed"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/notify"
	"github.com/scrypster/engram/internal/server"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/postgres"
	"github.com/scrypster/engram/internal/storage/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	embedder, extractor := buildLLMStack(cfg)

	eng := engine.NewEngine(store, embedder, extractor, cfg)
	eng.SetMirror(notify.NewSidecar(cfg.Storage.DataPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startBackups(ctx, cfg)

	addr, err := server.Start(ctx, cfg, eng)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("engramd ready on %s (storage=%s)", addr, cfg.Storage.StorageEngine)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)
	cancel()
}

// openStore selects the storage backend from configuration.
func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.StorageEngine == "postgres" {
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	}
	return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "engram.db"))
}

// startBackups launches periodic sqlite snapshots when configured. Postgres
// deployments are expected to use their own backup tooling.
func startBackups(ctx context.Context, cfg *config.Config) {
	if cfg.Storage.StorageEngine != "sqlite" || cfg.Storage.BackupIntervalHours <= 0 {
		return
	}

	snap, err := backup.NewSnapshotter(
		filepath.Join(cfg.Storage.DataPath, "engram.db"),
		filepath.Join(cfg.Storage.DataPath, "backups"),
		cfg.Storage.BackupKeep,
		time.Duration(cfg.Storage.BackupIntervalHours)*time.Hour,
	)
	if err != nil {
		log.Printf("Backups disabled: %v", err)
		return
	}
	go snap.Run(ctx)
}

// buildLLMStack wires the Ollama-backed embedder and extractor when the LLM
// pass is enabled. Without it the engine runs heuristics-only with
// lexical-only retrieval.
func buildLLMStack(cfg *config.Config) (embed.Embedder, *llm.Extractor) {
	if !cfg.LLM.Enabled {
		return embed.NullClient{}, nil
	}

	ollama := llm.NewOllamaClient(cfg.LLM.OllamaURL, cfg.LLM.OllamaModel)

	embedder, err := embed.NewClient(ollama.Embed(cfg.LLM.EmbeddingModel), embed.Options{
		Dimension:  cfg.Embedding.Dimension,
		CacheSize:  cfg.Embedding.CacheSize,
		RatePerSec: cfg.Embedding.RatePerSec,
		MaxChars:   cfg.Embedding.MaxChars,
	})
	if err != nil {
		log.Printf("Embedding client unavailable, retrieval degrades to lexical-only: %v", err)
		return embed.NullClient{}, llm.NewExtractor(ollama, nil)
	}

	return embedder, llm.NewExtractor(ollama, nil)
}
