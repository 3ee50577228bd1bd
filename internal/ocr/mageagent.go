package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/drugid-worker/internal/clients"
	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/imageproc"
)

// VisionExtractor is the subset of the MageAgent client the adapter needs.
type VisionExtractor interface {
	ExtractTextFromBytes(ctx context.Context, imageData []byte, preferAccuracy bool, language string) (*clients.VisionOCRResponse, error)
	HealthCheck(ctx context.Context) error
}

// MageAgentAdapter delegates recognition to MageAgent vision models. The
// service returns plain text without geometry, so lines carry a zero box
// and the service-level confidence.
type MageAgentAdapter struct {
	client VisionExtractor
}

// NewMageAgentAdapter creates a MageAgent adapter
func NewMageAgentAdapter(client VisionExtractor) *MageAgentAdapter {
	return &MageAgentAdapter{client: client}
}

func (a *MageAgentAdapter) Name() string { return "mageagent" }

func (a *MageAgentAdapter) Initialize(ctx context.Context) (Handle, error) {
	if a.client == nil {
		return nil, fmt.Errorf("mageagent not configured")
	}
	if err := a.client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("mageagent unavailable: %w", err)
	}
	return &mageAgentHandle{client: a.client}, nil
}

type mageAgentHandle struct {
	client VisionExtractor
}

func (h *mageAgentHandle) Extract(ctx context.Context, img *imageproc.Image) (*Result, error) {
	png, err := img.PNG()
	if err != nil {
		return nil, err
	}
	resp, err := h.client.ExtractTextFromBytes(ctx, png, false, "zh")
	if err != nil {
		return nil, err
	}

	conf := domain.ClampUnit(resp.Data.Confidence)
	var lines []Line
	for _, raw := range strings.Split(resp.Data.Text, "\n") {
		text := collapseHanSpaces(raw)
		if text == "" {
			continue
		}
		lines = append(lines, Line{Text: text, Confidence: conf})
	}
	if lines == nil {
		lines = []Line{}
	}
	return NewResult("mageagent", lines), nil
}

func (h *mageAgentHandle) Close() error { return nil }
