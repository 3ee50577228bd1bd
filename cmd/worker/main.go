/**
 * Drug Identification Worker - Main Entry Point
 *
 * Identifies retail drug packages from photographs.
 *
 * Architecture:
 * - chi HTTP API for synchronous identification, OCR diagnostics and search
 * - Redis-list or asynq consumer for async identification jobs
 * - Image normalization, multi-engine OCR (PaddleOCR, Tesseract, MageAgent)
 * - Field extraction, cross-image merge and cascading registry resolution
 * - PostgreSQL registry with Redis read-through cache and Qdrant semantic fallback
 */

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/drugid-worker/internal/clients"
	"github.com/adverant/nexus/drugid-worker/internal/config"
	"github.com/adverant/nexus/drugid-worker/internal/imageproc"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/matcher"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
	"github.com/adverant/nexus/drugid-worker/internal/ocr"
	"github.com/adverant/nexus/drugid-worker/internal/processor"
	"github.com/adverant/nexus/drugid-worker/internal/queue"
	"github.com/adverant/nexus/drugid-worker/internal/storage"
	chiTransport "github.com/adverant/nexus/drugid-worker/internal/transport/chi"
)

// consumer is the running queue driver.
type consumer interface {
	chiTransport.Enqueuer
	stop(ctx context.Context) error
}

type redisDriver struct{ *queue.RedisConsumer }

func (d redisDriver) stop(ctx context.Context) error { return d.Stop() }

type asynqDriver struct{ *queue.Consumer }

func (d asynqDriver) stop(ctx context.Context) error { return d.Stop(ctx) }

func main() {
	if err := godotenv.Load(".env.nexus"); err != nil {
		log.Printf("Warning: .env.nexus not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	metrics.Register()

	log.Printf("Drug identification worker starting...")
	log.Printf("Configuration loaded: Queue=%s (%s), Engines=%v, Mode=%s, HTTP=%s",
		cfg.QueueDriver, cfg.QueueName, cfg.OCREngines, cfg.OCRMode, cfg.HTTPAddr)

	ctx := context.Background()

	// Registry: PostgreSQL + optional Redis cache + optional Qdrant fallback
	log.Printf("Connecting to PostgreSQL...")
	postgres, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	if err := postgres.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opt)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis unreachable, registry cache disabled: %v", err)
			redisClient.Close()
			redisClient = nil
		}
	}

	regOpts := storage.RegistryOptions{
		Redis:    redisClient,
		CacheTTL: cfg.CacheTTLDuration(),
	}
	if cfg.VoyageAPIKey != "" && cfg.QdrantURL != "" {
		embedder, err := clients.NewEmbeddingClient(cfg.VoyageAPIKey)
		if err != nil {
			log.Printf("Warning: embeddings disabled: %v", err)
		} else if qdrant, err := storage.NewQdrantClient(cfg.QdrantURL, cfg.QdrantCollection); err != nil {
			log.Printf("Warning: Qdrant unavailable, semantic fallback disabled: %v", err)
		} else {
			regOpts.Qdrant = qdrant
			regOpts.Embedder = embedder
		}
	}
	registry := storage.NewRegistry(postgres, regOpts)
	defer registry.Close()
	log.Printf("Registry initialized (cache=%t, semantic=%t)", redisClient != nil, registry.Semantic() != nil)

	// OCR engines in priority order
	engines := ocr.NewEngineSet(buildAdapters(cfg), logging.NewLogger("OCR"))
	engines.Probe(ctx)
	defer engines.Close()
	log.Print(engineStatusLine(engines.ActiveEngine()))

	serviceCfg := processor.ServiceConfig{
		Normalizer: imageproc.NewNormalizer(imageproc.Options{
			MaxEdge: cfg.MaxImageEdge,
			MinEdge: cfg.MinImageEdge,
		}),
		Engines:          engines,
		Resolver:         matcher.NewResolver(registry, cfg.RegistryTimeoutDuration(), logging.NewLogger("Resolver")),
		ImageConcurrency: cfg.ImageConcurrency,
		ImageTimeout:     cfg.ImageTimeoutDuration(),
		DefaultMode:      ocr.ParseMode(cfg.OCRMode),
	}
	if cfg.ArchiveUploads && cfg.FileProcessAPIURL != "" {
		serviceCfg.Archiver = clients.NewArtifactClient(cfg.FileProcessAPIURL)
		log.Printf("Upload archival enabled (%s)", cfg.FileProcessAPIURL)
	}
	service, err := processor.NewService(serviceCfg)
	if err != nil {
		log.Fatalf("Failed to initialize identification service: %v", err)
	}

	// Queue consumer
	runner := queue.NewJobRunner(service, registry, time.Duration(cfg.ProcessingTimeout)*time.Millisecond)
	var jobs consumer
	switch cfg.QueueDriver {
	case "redis":
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Runner:      runner,
		})
		if err != nil {
			log.Fatalf("Failed to initialize queue consumer: %v", err)
		}
		if err := c.Start(); err != nil {
			log.Fatalf("Failed to start queue consumer: %v", err)
		}
		jobs = redisDriver{c}
	case "asynq":
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Runner:      runner,
		})
		if err != nil {
			log.Fatalf("Failed to initialize queue consumer: %v", err)
		}
		if err := c.Start(ctx); err != nil {
			log.Fatalf("Failed to start queue consumer: %v", err)
		}
		jobs = asynqDriver{c}
	default:
		log.Printf("Queue consumer disabled")
	}

	// HTTP API
	healthChecks := map[string]chiTransport.HealthCheck{
		"postgres": registry.Ping,
	}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	apiCfg := chiTransport.Config{
		Service:       service,
		Jobs:          registry,
		HealthChecks:  healthChecks,
		MaxImages:     cfg.MaxImages,
		MaxImageBytes: cfg.MaxImageBytes,
		Logger:        logging.NewLogger("HTTP"),
	}
	if jobs != nil {
		apiCfg.Queue = jobs
	}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      chiTransport.NewServer(apiCfg).Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.ProcessingTimeout)*time.Millisecond + 10*time.Second,
	}
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("===========================================")
	log.Printf("Drug identification worker is READY")
	log.Printf("===========================================")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}
	if jobs != nil {
		if err := jobs.stop(shutdownCtx); err != nil {
			log.Printf("Error stopping queue consumer: %v", err)
		}
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Printf("Shutdown complete")
}

// engineStatusLine describes the active OCR engine for the startup log.
func engineStatusLine(active string) string {
	if active == ocr.NullEngine {
		return "Warning: no OCR engine initialized; requests will return empty text"
	}
	return "OCR engine active: " + active
}

// buildAdapters creates the configured OCR adapters in priority order.
func buildAdapters(cfg *config.Config) []ocr.Adapter {
	var adapters []ocr.Adapter
	for _, name := range cfg.OCREngines {
		switch name {
		case "paddle":
			if cfg.PaddleOCRURL == "" {
				log.Printf("Skipping paddle engine: PADDLEOCR_URL not set")
				continue
			}
			adapters = append(adapters, ocr.NewPaddleAdapter(clients.NewPaddleClient(cfg.PaddleOCRURL)))
		case "tesseract":
			adapters = append(adapters, ocr.NewTesseractAdapter(ocr.TesseractConfig{
				TesseractPath: cfg.TesseractPath,
				Languages:     cfg.OCRLanguages,
			}))
		case "mageagent":
			if cfg.MageAgentURL == "" {
				log.Printf("Skipping mageagent engine: MAGEAGENT_URL not set")
				continue
			}
			adapters = append(adapters, ocr.NewMageAgentAdapter(clients.NewMageAgentClient(cfg.MageAgentURL)))
		default:
			log.Printf("Unknown OCR engine %q ignored", name)
		}
	}
	return adapters
}
