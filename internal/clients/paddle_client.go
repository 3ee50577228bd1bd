/**
 * PaddleOCR Sidecar Client
 *
 * The PaddleOCR models run in a separate Python process exposing a small
 * JSON API. Each recognized line comes back with its quadrilateral and score.
 */

package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// PaddleClient talks to the PaddleOCR sidecar
type PaddleClient struct {
	baseURL    string
	httpClient *http.Client
}

// PaddleOCRRequest is the recognition request body
type PaddleOCRRequest struct {
	Image    string `json:"image"` // Base64 encoded PNG
	Language string `json:"lang"`
	UseAngle bool   `json:"use_angle_cls"`
}

// PaddleLine is one recognized line
type PaddleLine struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Box        [][2]float64 `json:"box"` // four points, clockwise from top-left
}

// PaddleOCRResponse is the recognition response body
type PaddleOCRResponse struct {
	Lines []PaddleLine `json:"lines"`
	Error string       `json:"error,omitempty"`
}

// NewPaddleClient creates a new sidecar client
func NewPaddleClient(baseURL string) *PaddleClient {
	return &PaddleClient{
		baseURL: trimBaseURL(baseURL),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Recognize runs detection + recognition on one encoded image
func (c *PaddleClient) Recognize(ctx context.Context, png []byte, language string) (*PaddleOCRResponse, error) {
	req := &PaddleOCRRequest{
		Image:    base64.StdEncoding.EncodeToString(png),
		Language: language,
		UseAngle: true,
	}

	var resp PaddleOCRResponse
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/ocr", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("PaddleOCR recognition failed: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("PaddleOCR error: %s", resp.Error)
	}
	return &resp, nil
}

// HealthCheck verifies the sidecar has loaded its models
func (c *PaddleClient) HealthCheck(ctx context.Context) error {
	return getHealth(ctx, c.httpClient, c.baseURL+"/health")
}
