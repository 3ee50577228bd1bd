/**
 * Artifact Client
 *
 * Archives submitted package photos through the FileProcess API so that a
 * disputed identification can be replayed against the original pixels.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/adverant/nexus/drugid-worker/internal/logging"
)

// archiveTTLDays is how long package photos are retained.
const archiveTTLDays = 90

// ArtifactClient uploads images to the FileProcess artifact store
type ArtifactClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ArtifactUploadRequest is one file to archive
type ArtifactUploadRequest struct {
	Data     []byte
	Filename string
	MimeType string
	JobID    string
	Metadata map[string]interface{}
}

// ArtifactUploadResponse is the API reply for an upload
type ArtifactUploadResponse struct {
	Success  bool `json:"success"`
	Artifact struct {
		ID             string `json:"id"`
		StorageBackend string `json:"storage_backend"`
		DownloadURL    string `json:"download_url"`
	} `json:"artifact"`
	Error string `json:"error,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{
		baseURL: trimBaseURL(baseURL),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("ArtifactClient"),
	}
}

// HealthCheck verifies the FileProcess API is reachable
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	return getHealth(ctx, c.httpClient, c.baseURL+"/health")
}

// UploadArtifact stores one image and returns the artifact id.
func (c *ArtifactClient) UploadArtifact(ctx context.Context, req *ArtifactUploadRequest) (*ArtifactUploadResponse, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("artifact data is required")
	}
	if req.Filename == "" {
		return nil, fmt.Errorf("artifact filename is required")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, fmt.Errorf("failed to write file data to form: %w", err)
	}

	fields := map[string]string{
		"source_service": "drugid-worker",
		"source_id":      req.JobID,
		"ttl_days":       strconv.Itoa(archiveTTLDays),
	}
	if len(req.Metadata) > 0 {
		meta, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		fields["metadata"] = string(meta)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fileprocess/api/files/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("artifact upload failed after %v: %w", time.Since(start), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact upload failed with HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	var result ArtifactUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact upload response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}
	if result.Artifact.ID == "" {
		return nil, fmt.Errorf("artifact upload succeeded but returned empty artifact ID")
	}

	c.logger.Debug("Artifact uploaded",
		"id", result.Artifact.ID,
		"backend", result.Artifact.StorageBackend,
		"size", len(req.Data),
		"duration", time.Since(start))

	return &result, nil
}
