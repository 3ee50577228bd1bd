/**
 * HTTP API for the Drug Identification Worker
 *
 * Synchronous identification, OCR diagnostics, registry search, engine
 * status, async job submission and health/metrics endpoints.
 */

package chi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adverant/nexus/drugid-worker/internal/errors"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/matcher"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
	"github.com/adverant/nexus/drugid-worker/internal/ocr"
	"github.com/adverant/nexus/drugid-worker/internal/processor"
	"github.com/adverant/nexus/drugid-worker/internal/queue"
	"github.com/adverant/nexus/drugid-worker/internal/storage"
)

const (
	defaultMaxImages     = 6
	defaultMaxImageBytes = 16 << 20
	healthTimeout        = 3 * time.Second
)

// Identifier is the identification service behind the API.
type Identifier interface {
	Identify(ctx context.Context, images [][]byte, opts processor.Options) (*processor.IdentifyResult, error)
	OCROnly(ctx context.Context, images [][]byte, opts processor.Options) (*processor.OCRReport, error)
	Lookup(ctx context.Context, term string, enterprise *string) *matcher.MatchResult
	Engines() []ocr.EngineStatus
}

// JobReader loads persisted identification jobs.
type JobReader interface {
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
}

// Enqueuer submits async identification jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload *queue.JobPayload) (string, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config wires the server. Jobs, Queue and HealthChecks are optional.
type Config struct {
	Service       Identifier
	Jobs          JobReader
	Queue         Enqueuer
	HealthChecks  map[string]HealthCheck
	MaxImages     int
	MaxImageBytes int64
	Logger        *logging.Logger
}

// Server serves the HTTP API.
type Server struct {
	service       Identifier
	jobs          JobReader
	queue         Enqueuer
	healthChecks  map[string]HealthCheck
	maxImages     int
	maxImageBytes int64
	logger        *logging.Logger
}

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// requestError is an input problem detected before the service is called.
type requestError struct {
	status  int
	code    errors.ErrorCode
	message string
}

func (e *requestError) Error() string { return e.message }

// identifyRequest is the JSON form of an upload. ImageBase64 accepts a
// single image for older clients.
type identifyRequest struct {
	Images      []string               `json:"images"`
	ImageBase64 string                 `json:"image_base64"`
	Enhance     *bool                  `json:"enhance"`
	Mode        string                 `json:"mode"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// NewServer creates an HTTP API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		service:       cfg.Service,
		jobs:          cfg.Jobs,
		queue:         cfg.Queue,
		healthChecks:  cfg.HealthChecks,
		maxImages:     cfg.MaxImages,
		maxImageBytes: cfg.MaxImageBytes,
		logger:        cfg.Logger,
	}
	if s.maxImages <= 0 {
		s.maxImages = defaultMaxImages
	}
	if s.maxImageBytes <= 0 {
		s.maxImageBytes = defaultMaxImageBytes
	}
	if s.logger == nil {
		s.logger = logging.NewLogger("HTTP")
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := gochi.NewRouter()
	r.Use(s.jsonRecoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r gochi.Router) {
		r.Post("/identify", s.handleIdentify)
		r.Post("/ocr", s.handleOCR)
		r.Get("/ocr/engines", s.handleEngines)
		r.Get("/search", s.handleSearch)
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{id}", s.handleGetJob)
	})
	return r
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	images, opts, err := s.readImages(w, r)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	result, err := s.service.Identify(r.Context(), images, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	images, opts, err := s.readImages(w, r)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	report, err := s.service.OCROnly(r.Context(), images, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"engines": s.service.Engines(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		term = strings.TrimSpace(r.URL.Query().Get("keyword"))
	}
	if term == "" {
		writeError(w, http.StatusBadRequest, errors.ErrorMalformedInput, "query parameter q is required")
		return
	}

	var enterprise *string
	if e := strings.TrimSpace(r.URL.Query().Get("enterprise")); e != "" {
		enterprise = &e
	}

	writeJSON(w, http.StatusOK, s.service.Lookup(r.Context(), term, enterprise))
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "QUEUE_DISABLED", "async jobs are not enabled")
		return
	}

	images, opts, err := s.readImages(w, r)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	enhance := opts.Enhance
	payload := &queue.JobPayload{
		Images:   images,
		Enhance:  &enhance,
		Mode:     string(opts.Mode),
		Metadata: opts.Metadata,
	}
	jobID, err := s.queue.Enqueue(r.Context(), payload)
	if err != nil {
		s.logger.Error("Failed to enqueue job", "error", err)
		writeError(w, http.StatusServiceUnavailable, errors.ErrorStorageFailed, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"jobId":   jobID,
		"status":  "queued",
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "JOBS_DISABLED", "job storage is not configured")
		return
	}

	job, err := s.jobs.GetJobByID(r.Context(), gochi.URLParam(r, "id"))
	if err != nil {
		if stderrors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", err.Error())
			return
		}
		s.logger.Error("Failed to load job", "error", err)
		writeError(w, http.StatusInternalServerError, errors.ErrorStorageFailed, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	healthy := true
	checks := make(map[string]string, len(s.healthChecks))
	for name, check := range s.healthChecks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	engines := s.service.Engines()
	active := ""
	for _, e := range engines {
		if e.Active {
			active = e.Name
		}
	}
	if active == "" {
		healthy = false
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":        status,
		"service":       "drugid-worker",
		"checks":        checks,
		"active_engine": active,
		"engines":       engines,
	})
}

// readImages extracts the images and options from a JSON or multipart
// body and applies the count, size and format limits.
func (s *Server) readImages(w http.ResponseWriter, r *http.Request) ([][]byte, processor.Options, error) {
	opts := processor.Options{Enhance: true}
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxImages)*s.maxImageBytes*4/3+(1<<20))

	var (
		images [][]byte
		err    error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		images, err = s.readMultipart(r, &opts)
	} else {
		images, err = s.readJSON(r, &opts)
	}
	if err != nil {
		return nil, opts, err
	}

	if len(images) == 0 {
		return nil, opts, &requestError{http.StatusBadRequest, errors.ErrorMalformedInput, "no images provided"}
	}
	if len(images) > s.maxImages {
		return nil, opts, &requestError{http.StatusBadRequest, errors.ErrorMalformedInput,
			fmt.Sprintf("too many images: %d (max %d)", len(images), s.maxImages)}
	}
	for i, img := range images {
		if int64(len(img)) > s.maxImageBytes {
			return nil, opts, &requestError{http.StatusRequestEntityTooLarge, errors.ErrorInvalidImage,
				fmt.Sprintf("image %d exceeds %d bytes", i, s.maxImageBytes)}
		}
		if processor.DetectImageType(img) == "" {
			return nil, opts, &requestError{http.StatusUnsupportedMediaType, errors.ErrorInvalidImage,
				fmt.Sprintf("image %d: unsupported format", i)}
		}
	}
	return images, opts, nil
}

func (s *Server) readJSON(r *http.Request, opts *processor.Options) ([][]byte, error) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &requestError{http.StatusBadRequest, errors.ErrorMalformedInput, "invalid request body: " + err.Error()}
	}
	if req.Enhance != nil {
		opts.Enhance = *req.Enhance
	}
	if req.Mode != "" {
		opts.Mode = ocr.ParseMode(req.Mode)
	}
	opts.Metadata = req.Metadata

	encoded := req.Images
	if len(encoded) == 0 && req.ImageBase64 != "" {
		encoded = []string{req.ImageBase64}
	}
	images := make([][]byte, 0, len(encoded))
	for i, e := range encoded {
		img, err := decodeBase64Image(e)
		if err != nil {
			return nil, &requestError{http.StatusBadRequest, errors.ErrorMalformedInput,
				fmt.Sprintf("image %d: invalid base64", i)}
		}
		images = append(images, img)
	}
	return images, nil
}

// decodeBase64Image accepts plain base64 or a data URL.
func decodeBase64Image(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func (s *Server) readMultipart(r *http.Request, opts *processor.Options) ([][]byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, &requestError{http.StatusBadRequest, errors.ErrorMalformedInput, "invalid multipart body: " + err.Error()}
	}
	if v := r.FormValue("enhance"); v != "" {
		opts.Enhance = strings.EqualFold(v, "true")
	}
	if v := r.FormValue("mode"); v != "" {
		opts.Mode = ocr.ParseMode(v)
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		files = r.MultipartForm.File["image"]
	}

	images := make([][]byte, 0, len(files))
	for i, fh := range files {
		if fh.Filename == "" {
			continue
		}
		data, err := s.readPart(fh)
		if err != nil {
			return nil, &requestError{http.StatusBadRequest, errors.ErrorMalformedInput,
				fmt.Sprintf("image %d: %v", i, err)}
		}
		images = append(images, data)
	}
	return images, nil
}

func (s *Server) readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	// One extra byte lets the size check in readImages see oversized parts.
	return io.ReadAll(io.LimitReader(f, s.maxImageBytes+1))
}

func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if stderrors.As(err, &re) {
		writeError(w, re.status, re.code, re.message)
		return
	}
	writeError(w, http.StatusBadRequest, errors.ErrorMalformedInput, err.Error())
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch errors.CodeOf(err) {
	case errors.ErrorMalformedInput, errors.ErrorInvalidImage:
		writeError(w, http.StatusBadRequest, errors.CodeOf(err), err.Error())
	case errors.ErrorProcessingTimeout:
		writeError(w, http.StatusGatewayTimeout, errors.ErrorProcessingTimeout, err.Error())
	default:
		s.logger.Error("Identification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	writeJSON(w, status, errorResponse{
		Success: false,
		Code:    string(code),
		Error:   message,
	})
}
