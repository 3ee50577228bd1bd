package ocr

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/drugid-worker/internal/clients"
	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/imageproc"
)

// PaddleRecognizer is the subset of the sidecar client the adapter needs.
type PaddleRecognizer interface {
	Recognize(ctx context.Context, png []byte, language string) (*clients.PaddleOCRResponse, error)
	HealthCheck(ctx context.Context) error
}

// PaddleAdapter wraps the PaddleOCR sidecar. It has the best accuracy on
// Chinese packaging and is the default engine when reachable.
type PaddleAdapter struct {
	client   PaddleRecognizer
	language string
}

// NewPaddleAdapter creates a PaddleOCR adapter
func NewPaddleAdapter(client PaddleRecognizer) *PaddleAdapter {
	return &PaddleAdapter{client: client, language: "ch"}
}

func (a *PaddleAdapter) Name() string { return "paddle" }

// Initialize checks that the sidecar has its models loaded.
func (a *PaddleAdapter) Initialize(ctx context.Context) (Handle, error) {
	if a.client == nil {
		return nil, fmt.Errorf("paddle sidecar not configured")
	}
	if err := a.client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("paddle sidecar unavailable: %w", err)
	}
	return &paddleHandle{client: a.client, language: a.language}, nil
}

type paddleHandle struct {
	client   PaddleRecognizer
	language string
}

func (h *paddleHandle) Extract(ctx context.Context, img *imageproc.Image) (*Result, error) {
	png, err := img.PNG()
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Recognize(ctx, png, h.language)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(resp.Lines))
	for _, pl := range resp.Lines {
		text := collapseHanSpaces(pl.Text)
		if text == "" {
			continue
		}
		var box Box
		for i := 0; i < len(pl.Box) && i < 4; i++ {
			box[i] = Point{X: pl.Box[i][0], Y: pl.Box[i][1]}
		}
		lines = append(lines, Line{
			Text:       text,
			Confidence: domain.ClampUnit(pl.Confidence),
			Box:        box,
		})
	}
	return NewResult("paddle", lines), nil
}

func (h *paddleHandle) Close() error { return nil }
