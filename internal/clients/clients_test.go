package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adverant/nexus/drugid-worker/internal/errors"
)

func TestPaddleClientRecognize(t *testing.T) {
	var got PaddleOCRRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lines":[{"text":"阿莫西林胶囊","confidence":0.93,"box":[[1,2],[30,2],[30,12],[1,12]]}]}`))
	}))
	defer srv.Close()

	c := NewPaddleClient(srv.URL + "/")
	resp, err := c.Recognize(context.Background(), []byte{1, 2, 3}, "ch")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Image != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) || got.Language != "ch" {
		t.Errorf("request = %+v", got)
	}
	if len(resp.Lines) != 1 || resp.Lines[0].Text != "阿莫西林胶囊" || resp.Lines[0].Box[2][0] != 30 {
		t.Errorf("response = %+v", resp)
	}
}

func TestPaddleClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      string
		callFails bool
	}{
		{"http error", http.StatusInternalServerError, "boom", "status 500", true},
		{"sidecar error", http.StatusOK, `{"lines":[],"error":"model not loaded"}`, "model not loaded", false},
		{"bad json", http.StatusOK, `{`, "failed to parse", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewPaddleClient(srv.URL).Recognize(context.Background(), []byte{1}, "ch")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
			if got := errors.Is(err, errors.ErrorAPICallFailed); got != tt.callFails {
				t.Errorf("API_CALL_FAILED = %v, want %v", got, tt.callFails)
			}
		})
	}
}

func TestMageAgentExtractTextFromBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/internal/vision/extract-text":
			if r.Header.Get("X-Source") != "drugid-worker" {
				t.Errorf("X-Source = %q", r.Header.Get("X-Source"))
			}
			var req VisionOCRRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Format != "base64" || req.Language != "zh" {
				t.Errorf("request = %+v", req)
			}
			_, _ = w.Write([]byte(`{"success":true,"data":{"text":"布洛芬缓释胶囊\n国药准字H10900089","confidence":0.88,"modelUsed":"vision"}}`))
		case "/api/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewMageAgentClient(srv.URL)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	resp, err := c.ExtractTextFromBytes(context.Background(), []byte("png"), false, "zh")
	if err != nil {
		t.Fatalf("ExtractTextFromBytes: %v", err)
	}
	if !strings.Contains(resp.Data.Text, "国药准字H10900089") || resp.Data.Confidence != 0.88 {
		t.Errorf("data = %+v", resp.Data)
	}
}

func TestMageAgentUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"no vision model"}`))
	}))
	defer srv.Close()

	_, err := NewMageAgentClient(srv.URL).ExtractTextFromBytes(context.Background(), []byte("png"), true, "zh")
	if err == nil || !strings.Contains(err.Error(), "no vision model") {
		t.Fatalf("err = %v", err)
	}
}

func TestHealthCheckFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewPaddleClient(srv.URL).HealthCheck(context.Background())
	if !errors.Is(err, errors.ErrorAPICallFailed) {
		t.Fatalf("err = %v, want API_CALL_FAILED", err)
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Errorf("err = %v", err)
	}
}

func TestEmbeddingBatchOrdersByIndex(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req VoyageEmbeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var resp VoyageEmbeddingResponse
		// Reverse order to check index placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, EmbeddingDimensions)
			vec[0] = float32(len(req.Input[i]))
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{vec, i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewEmbeddingClient("key")
	if err != nil {
		t.Fatal(err)
	}
	c.baseURL = srv.URL

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = strings.Repeat("a", i+1)
	}
	vecs, err := c.GenerateEmbeddingBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("GenerateEmbeddingBatch: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(vecs) != 150 {
		t.Fatalf("len = %d", len(vecs))
	}
	for i, v := range vecs {
		if int(v[0]) != i+1 {
			t.Fatalf("vecs[%d][0] = %v", i, v[0])
		}
	}
}

func TestEmbeddingRequiresKey(t *testing.T) {
	if _, err := NewEmbeddingClient(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestArtifactUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fileprocess/api/files/upload" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("source_id") != "job-1" || r.FormValue("source_service") != "drugid-worker" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		_, _ = w.Write([]byte(`{"success":true,"artifact":{"id":"a1","storage_backend":"minio"}}`))
	}))
	defer srv.Close()

	c := NewArtifactClient(srv.URL)
	resp, err := c.UploadArtifact(context.Background(), &ArtifactUploadRequest{
		Data: []byte("img"), Filename: "job-1-0.jpg", MimeType: "image/jpeg", JobID: "job-1",
	})
	if err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if resp.Artifact.ID != "a1" {
		t.Errorf("id = %q", resp.Artifact.ID)
	}

	if _, err := c.UploadArtifact(context.Background(), &ArtifactUploadRequest{Filename: "x"}); err == nil {
		t.Error("expected error for empty data")
	}
}
