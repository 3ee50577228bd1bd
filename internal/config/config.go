/**
 * Configuration for the Drug Identification Worker
 *
 * Values come from built-in defaults, then an optional YAML file named by
 * CONFIG_FILE, then environment variables (matching .env.nexus).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string `yaml:"redis_url"`

	// PostgreSQL configuration (drug registry + identification jobs)
	DatabaseURL string `yaml:"database_url"`

	// Qdrant semantic index for registry names
	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`

	// API Keys
	VoyageAPIKey string `yaml:"voyage_api_key"`

	// Service URLs
	MageAgentURL      string `yaml:"mageagent_url"`
	PaddleOCRURL      string `yaml:"paddleocr_url"`
	FileProcessAPIURL string `yaml:"fileprocess_api_url"` // artifact storage for uploaded images

	// HTTP API
	HTTPAddr string `yaml:"http_addr"`

	// Queue configuration
	QueueDriver       string `yaml:"queue_driver"` // redis, asynq or none
	QueueName         string `yaml:"queue_name"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`
	ProcessingTimeout int    `yaml:"processing_timeout_ms"`

	// OCR configuration
	OCREngines    []string `yaml:"ocr_engines"`
	OCRLanguages  []string `yaml:"ocr_languages"`
	OCRMode       string   `yaml:"ocr_mode"`
	TesseractPath string   `yaml:"tesseract_path"`

	// Image pipeline
	MaxImageEdge     int   `yaml:"max_image_edge"`
	MinImageEdge     int   `yaml:"min_image_edge"`
	MaxImages        int   `yaml:"max_images"`
	MaxImageBytes    int64 `yaml:"max_image_bytes"`
	ImageConcurrency int   `yaml:"image_concurrency"`
	ImageTimeout     int   `yaml:"image_timeout_ms"`
	ArchiveUploads   bool  `yaml:"archive_uploads"`

	// Registry
	RegistryTimeout int `yaml:"registry_timeout_ms"`
	CacheTTL        int `yaml:"registry_cache_ttl_s"`

	LogLevel string `yaml:"log_level"`
	NodeEnv  string `yaml:"node_env"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		RedisURL:          "redis://nexus-redis:6379",
		QdrantURL:         "nexus-qdrant:6334",
		QdrantCollection:  "drug_names",
		MageAgentURL:      "http://nexus-mageagent:8080",
		HTTPAddr:          ":8097",
		QueueDriver:       "redis",
		QueueName:         "drugid:jobs",
		WorkerConcurrency: 4,
		ProcessingTimeout: 120000,
		OCREngines:        []string{"paddle", "tesseract", "mageagent"},
		OCRLanguages:      []string{"chi_sim", "eng"},
		OCRMode:           "default",
		TesseractPath:     "/usr/bin/tesseract",
		MaxImageEdge:      2048,
		MinImageEdge:      100,
		MaxImages:         6,
		MaxImageBytes:     16 << 20,
		ImageConcurrency:  4,
		ImageTimeout:      30000,
		RegistryTimeout:   3000,
		CacheTTL:          600,
		LogLevel:          "info",
		NodeEnv:           "development",
	}
}

// LoadConfig loads configuration from the optional YAML file and environment variables
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file; ${VAR} references are expanded before parsing.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.QdrantURL = getEnvOrDefault("QDRANT_URL", c.QdrantURL)
	c.QdrantCollection = getEnvOrDefault("QDRANT_COLLECTION", c.QdrantCollection)
	c.VoyageAPIKey = getEnvOrDefault("VOYAGE_API_KEY", c.VoyageAPIKey)
	c.MageAgentURL = getEnvOrDefault("MAGEAGENT_URL", c.MageAgentURL)
	c.PaddleOCRURL = getEnvOrDefault("PADDLEOCR_URL", c.PaddleOCRURL)
	c.FileProcessAPIURL = getEnvOrDefault("FILEPROCESS_API_URL", c.FileProcessAPIURL)
	c.HTTPAddr = getEnvOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.QueueDriver = getEnvOrDefault("QUEUE_DRIVER", c.QueueDriver)
	c.QueueName = getEnvOrDefault("QUEUE_NAME", c.QueueName)
	c.WorkerConcurrency = getEnvAsIntOrDefault("WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.ProcessingTimeout = getEnvAsIntOrDefault("PROCESSING_TIMEOUT", c.ProcessingTimeout)
	c.OCREngines = getEnvAsListOrDefault("OCR_ENGINES", c.OCREngines)
	c.OCRLanguages = getEnvAsListOrDefault("OCR_LANGUAGES", c.OCRLanguages)
	c.OCRMode = getEnvOrDefault("OCR_MODE", c.OCRMode)
	c.TesseractPath = getEnvOrDefault("TESSERACT_PATH", c.TesseractPath)
	c.MaxImageEdge = getEnvAsIntOrDefault("MAX_IMAGE_EDGE", c.MaxImageEdge)
	c.MinImageEdge = getEnvAsIntOrDefault("MIN_IMAGE_EDGE", c.MinImageEdge)
	c.MaxImages = getEnvAsIntOrDefault("MAX_IMAGES", c.MaxImages)
	c.MaxImageBytes = getEnvAsInt64OrDefault("MAX_IMAGE_BYTES", c.MaxImageBytes)
	c.ImageConcurrency = getEnvAsIntOrDefault("IMAGE_CONCURRENCY", c.ImageConcurrency)
	c.ImageTimeout = getEnvAsIntOrDefault("IMAGE_TIMEOUT", c.ImageTimeout)
	c.ArchiveUploads = getEnvAsBoolOrDefault("ARCHIVE_UPLOADS", c.ArchiveUploads)
	c.RegistryTimeout = getEnvAsIntOrDefault("REGISTRY_TIMEOUT", c.RegistryTimeout)
	c.CacheTTL = getEnvAsIntOrDefault("REGISTRY_CACHE_TTL", c.CacheTTL)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.NodeEnv = getEnvOrDefault("NODE_ENV", c.NodeEnv)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.QueueDriver {
	case "redis", "asynq":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for queue driver %s", c.QueueDriver)
		}
	case "none":
	default:
		return fmt.Errorf("QUEUE_DRIVER must be redis, asynq or none, got %q", c.QueueDriver)
	}

	switch c.OCRMode {
	case "default", "fusion", "specialized":
	default:
		return fmt.Errorf("OCR_MODE must be default, fusion or specialized, got %q", c.OCRMode)
	}

	if len(c.OCREngines) == 0 {
		return fmt.Errorf("OCR_ENGINES must list at least one engine")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ImageConcurrency < 1 || c.ImageConcurrency > 32 {
		return fmt.Errorf("IMAGE_CONCURRENCY must be between 1 and 32, got %d", c.ImageConcurrency)
	}

	if c.MinImageEdge < 1 || c.MaxImageEdge < c.MinImageEdge {
		return fmt.Errorf("image edge bounds invalid: min=%d max=%d", c.MinImageEdge, c.MaxImageEdge)
	}

	if c.MaxImages < 1 {
		return fmt.Errorf("MAX_IMAGES must be positive, got %d", c.MaxImages)
	}

	if c.MaxImageBytes < 1024 || c.MaxImageBytes > 64<<20 { // 1KB to 64MB
		return fmt.Errorf("MAX_IMAGE_BYTES must be between 1KB and 64MB, got %d", c.MaxImageBytes)
	}

	if c.RegistryTimeout <= 0 || c.ImageTimeout <= 0 {
		return fmt.Errorf("REGISTRY_TIMEOUT and IMAGE_TIMEOUT must be positive")
	}

	return nil
}

// RegistryTimeoutDuration is the per-call registry timeout.
func (c *Config) RegistryTimeoutDuration() time.Duration {
	return time.Duration(c.RegistryTimeout) * time.Millisecond
}

// ImageTimeoutDuration bounds one image's trip through the pipeline.
func (c *Config) ImageTimeoutDuration() time.Duration {
	return time.Duration(c.ImageTimeout) * time.Millisecond
}

// CacheTTLDuration is the registry cache entry lifetime.
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsListOrDefault splits a comma-separated variable, dropping blanks.
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
