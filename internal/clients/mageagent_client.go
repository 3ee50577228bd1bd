/**
 * MageAgent Client - vision text extraction
 *
 * MageAgent selects the vision model itself; this client only ships the
 * normalized package photo and reads back plain text with a confidence.
 */

package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/adverant/nexus/drugid-worker/internal/logging"
)

// MageAgentClient handles communication with MageAgent service
type MageAgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image          string                 `json:"image"`          // Base64 encoded image
	Format         string                 `json:"format"`         // "base64"
	PreferAccuracy bool                   `json:"preferAccuracy"` // true = highest accuracy model
	Language       string                 `json:"language"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// VisionOCRResponse represents a synchronous response from MageAgent vision endpoint
type VisionOCRResponse struct {
	Success bool          `json:"success"`
	Data    VisionOCRData `json:"data"`
	Message string        `json:"message"`
}

// VisionOCRData contains the extracted text and metadata
type VisionOCRData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// NewMageAgentClient creates a new MageAgent client
func NewMageAgentClient(baseURL string) *MageAgentClient {
	return &MageAgentClient{
		baseURL: trimBaseURL(baseURL),
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // Vision tasks can take time
		},
		logger: logging.NewLogger("MageAgentClient"),
	}
}

// ExtractText extracts text from an image using MageAgent's vision model selection
func (c *MageAgentClient) ExtractText(ctx context.Context, req *VisionOCRRequest) (*VisionOCRResponse, error) {
	c.logger.Debug("Requesting text extraction from MageAgent",
		"preferAccuracy", req.PreferAccuracy,
		"language", req.Language,
		"imageSize", len(req.Image))

	// Internal endpoint is rate-limit exempt
	endpoint := fmt.Sprintf("%s/api/internal/vision/extract-text", c.baseURL)
	headers := map[string]string{
		"X-Source":     "drugid-worker",
		"X-Request-ID": fmt.Sprintf("ocr-%d", time.Now().UnixNano()),
	}

	var ocrResp VisionOCRResponse
	if err := postJSON(ctx, c.httpClient, endpoint, headers, req, &ocrResp); err != nil {
		return nil, fmt.Errorf("MageAgent text extraction failed: %w", err)
	}

	if !ocrResp.Success {
		return nil, fmt.Errorf("MageAgent operation failed: %s", ocrResp.Message)
	}

	c.logger.Debug("Text extraction complete",
		"modelUsed", ocrResp.Data.ModelUsed,
		"confidence", ocrResp.Data.Confidence,
		"processingTime", ocrResp.Data.ProcessingTime,
		"textLength", len(ocrResp.Data.Text))

	return &ocrResp, nil
}

// ExtractTextFromBytes is a convenience method that handles base64 encoding
func (c *MageAgentClient) ExtractTextFromBytes(ctx context.Context, imageData []byte, preferAccuracy bool, language string) (*VisionOCRResponse, error) {
	return c.ExtractText(ctx, &VisionOCRRequest{
		Image:          base64.StdEncoding.EncodeToString(imageData),
		Format:         "base64",
		PreferAccuracy: preferAccuracy,
		Language:       language,
		Metadata: map[string]interface{}{
			"source":    "drugid-worker",
			"purpose":   "drug_package_ocr",
			"timestamp": time.Now().Unix(),
		},
	})
}

// HealthCheck verifies MageAgent is reachable
func (c *MageAgentClient) HealthCheck(ctx context.Context) error {
	return getHealth(ctx, c.httpClient, c.baseURL+"/api/health")
}
