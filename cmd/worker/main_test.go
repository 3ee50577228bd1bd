package main

import (
	"strings"
	"testing"

	"github.com/adverant/nexus/drugid-worker/internal/config"
	"github.com/adverant/nexus/drugid-worker/internal/ocr"
)

func TestEngineStatusLine(t *testing.T) {
	if got := engineStatusLine(ocr.NullEngine); !strings.HasPrefix(got, "Warning: no OCR engine initialized") {
		t.Errorf("null engine: %q", got)
	}
	if got := engineStatusLine("paddle"); got != "OCR engine active: paddle" {
		t.Errorf("paddle: %q", got)
	}
}

func TestBuildAdaptersSkipsUnconfiguredEngines(t *testing.T) {
	cfg := &config.Config{OCREngines: []string{"paddle", "mageagent", "bogus", "tesseract"}}
	adapters := buildAdapters(cfg)
	if len(adapters) != 1 || adapters[0].Name() != "tesseract" {
		names := make([]string, len(adapters))
		for i, a := range adapters {
			names[i] = a.Name()
		}
		t.Fatalf("adapters = %v, want [tesseract]", names)
	}
}
