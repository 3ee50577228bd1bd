/**
 * Tesseract Adapter - offline recognition
 *
 * Uses the local Tesseract installation through gosseract. A single client
 * is kept for the process lifetime; the underlying TessBaseAPI is not safe
 * for concurrent use, so calls are serialized.
 */

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/imageproc"
)

// blankPNG returns a small white image used to force model loading at init.
func blankPNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(8, 8, color.White), imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	TesseractPath string   // binary checked at init; empty skips the check
	Languages     []string // traineddata names, e.g. chi_sim, eng
}

// TesseractAdapter creates the Tesseract handle.
type TesseractAdapter struct {
	cfg TesseractConfig
}

// NewTesseractAdapter creates a new Tesseract adapter
func NewTesseractAdapter(cfg TesseractConfig) *TesseractAdapter {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"chi_sim", "eng"}
	}
	return &TesseractAdapter{cfg: cfg}
}

func (a *TesseractAdapter) Name() string { return "tesseract" }

// Initialize loads the language models.
func (a *TesseractAdapter) Initialize(ctx context.Context) (Handle, error) {
	if a.cfg.TesseractPath != "" {
		if _, err := os.Stat(a.cfg.TesseractPath); err != nil {
			return nil, fmt.Errorf("tesseract not installed at %s: %w", a.cfg.TesseractPath, err)
		}
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(a.cfg.Languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set tesseract languages: %w", err)
	}
	probe, err := blankPNG()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to build probe image: %w", err)
	}
	if err := client.SetImageFromBytes(probe); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set probe image: %w", err)
	}
	// Text() triggers Init; missing traineddata surfaces here.
	if _, err := client.Text(); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract init failed for %s: %w", strings.Join(a.cfg.Languages, "+"), err)
	}

	return &tesseractHandle{client: client}, nil
}

type tesseractHandle struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// Extract recognizes text lines in img.
func (h *tesseractHandle) Extract(ctx context.Context, img *imageproc.Image) (*Result, error) {
	png, err := img.PNG()
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.client.SetImageFromBytes(png); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	boxes, err := h.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	lines := make([]Line, 0, len(boxes))
	for _, b := range boxes {
		text := collapseHanSpaces(b.Word)
		if text == "" {
			continue
		}
		r := b.Box
		lines = append(lines, Line{
			Text:       text,
			Confidence: domain.ClampUnit(b.Confidence / 100),
			Box: Box{
				{X: float64(r.Min.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Max.Y)},
				{X: float64(r.Min.X), Y: float64(r.Max.Y)},
			},
		})
	}
	return NewResult("tesseract", lines), nil
}

func (h *tesseractHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client.Close()
}
