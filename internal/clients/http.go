package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/adverant/nexus/drugid-worker/internal/errors"
)

// postJSON marshals in, POSTs it to url and decodes a 2xx body into out.
// Transport, status and decoding failures are API_CALL_FAILED errors.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out interface{}) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return errors.NewAPICallFailedError(url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewAPICallFailedError(url, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewAPICallFailedError(url,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 512)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewAPICallFailedError(url, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// getHealth issues GET url and expects 200.
func getHealth(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.NewAPICallFailedError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.NewAPICallFailedError(url,
			fmt.Errorf("health check status %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func trimBaseURL(u string) string {
	return strings.TrimRight(u, "/")
}
