// Command reindex embeds every registry drug name into the Qdrant
// collection used by the semantic fallback.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/drugid-worker/internal/clients"
	"github.com/adverant/nexus/drugid-worker/internal/config"
	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/storage"
)

func main() {
	pageSize := flag.Int("page-size", 64, "registry rows embedded per batch")
	timeout := flag.Duration("timeout", 2*time.Hour, "overall time limit")
	flag.Parse()

	if err := godotenv.Load(".env.nexus"); err != nil {
		log.Printf("Warning: .env.nexus not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if cfg.VoyageAPIKey == "" || cfg.QdrantURL == "" {
		log.Fatalf("VOYAGE_API_KEY and QDRANT_URL are required for reindexing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	postgres, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	embedder, err := clients.NewEmbeddingClient(cfg.VoyageAPIKey)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}
	qdrant, err := storage.NewQdrantClient(cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		log.Fatalf("Failed to connect to Qdrant: %v", err)
	}

	registry := storage.NewRegistry(postgres, storage.RegistryOptions{
		Qdrant:   qdrant,
		Embedder: embedder,
	})
	defer registry.Close()

	start := time.Now()
	var records, names int
	err = postgres.ListDrugNames(ctx, *pageSize, func(page []domain.DrugRecord) error {
		n, err := registry.Semantic().Index(ctx, page)
		if err != nil {
			return err
		}
		records += len(page)
		names += n
		log.Printf("Indexed %d records (%d names)", records, names)
		return nil
	})
	if err != nil {
		log.Fatalf("Reindex failed after %d records: %v", records, err)
	}

	log.Printf("Reindex complete: %d records, %d names in %v", records, names, time.Since(start).Round(time.Second))
}
