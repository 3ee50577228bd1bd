package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/drugid")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.MaxImageEdge != 2048 || cfg.MinImageEdge != 100 {
		t.Errorf("edge bounds = %d/%d", cfg.MinImageEdge, cfg.MaxImageEdge)
	}
	if !reflect.DeepEqual(cfg.OCREngines, []string{"paddle", "tesseract", "mageagent"}) {
		t.Errorf("OCREngines = %v", cfg.OCREngines)
	}
	if cfg.RegistryTimeoutDuration() != 3*time.Second {
		t.Errorf("RegistryTimeoutDuration = %v", cfg.RegistryTimeoutDuration())
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drugid.yaml")
	content := `
database_url: ${TEST_DRUGID_DSN}
ocr_engines: [tesseract]
max_images: 3
queue_driver: none
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_DRUGID_DSN", "postgres://file/drugid")
	t.Setenv("MAX_IMAGES", "5")
	t.Setenv("OCR_LANGUAGES", "chi_sim, ,eng")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.DatabaseURL != "postgres://file/drugid" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if !reflect.DeepEqual(cfg.OCREngines, []string{"tesseract"}) {
		t.Errorf("OCREngines = %v", cfg.OCREngines)
	}
	if cfg.MaxImages != 5 {
		t.Errorf("env should override file: MaxImages = %d", cfg.MaxImages)
	}
	if !reflect.DeepEqual(cfg.OCRLanguages, []string{"chi_sim", "eng"}) {
		t.Errorf("OCRLanguages = %v", cfg.OCRLanguages)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"bad driver", func(c *Config) { c.QueueDriver = "kafka" }, "QUEUE_DRIVER"},
		{"bad mode", func(c *Config) { c.OCRMode = "best" }, "OCR_MODE"},
		{"no engines", func(c *Config) { c.OCREngines = nil }, "OCR_ENGINES"},
		{"edge bounds", func(c *Config) { c.MaxImageEdge = 50 }, "edge bounds"},
		{"redis required", func(c *Config) { c.RedisURL = "" }, "REDIS_URL"},
		{"no redis without queue", func(c *Config) { c.RedisURL = ""; c.QueueDriver = "none" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.DatabaseURL = "postgres://localhost/drugid"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
