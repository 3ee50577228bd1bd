/**
 * Identification Job Handling
 *
 * Payload decoding and the job lifecycle shared by the Redis-list and asynq
 * consumers: processing -> completed | failed, persisted to PostgreSQL.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/drugid-worker/internal/errors"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/ocr"
	"github.com/adverant/nexus/drugid-worker/internal/processor"
	"github.com/adverant/nexus/drugid-worker/internal/storage"
)

// TaskTypeIdentify is the asynq task type and the Redis job type.
const TaskTypeIdentify = "drug:identify"

const defaultProcessingTimeout = 120 * time.Second

// JobPayload contains the identification request
type JobPayload struct {
	JobID    string                 `json:"jobId"`
	Images   [][]byte               `json:"images"`
	Enhance  *bool                  `json:"enhance,omitempty"` // default true
	Mode     string                 `json:"mode,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts each image either as a base64 string or as a
// Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		Images []interface{} `json:"images"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	p.Images = make([][]byte, 0, len(aux.Images))
	for i, raw := range aux.Images {
		img, err := decodeImage(raw)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		p.Images = append(p.Images, img)
	}
	return nil
}

func decodeImage(v interface{}) ([]byte, error) {
	switch v := v.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 image: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		out := make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			out[i] = byte(byteVal)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("image must be either base64 string or Buffer object, got %T", v)
	}
}

// Options converts the payload into service options.
func (p *JobPayload) Options() processor.Options {
	enhance := true
	if p.Enhance != nil {
		enhance = *p.Enhance
	}
	var mode ocr.Mode
	if p.Mode != "" {
		mode = ocr.ParseMode(p.Mode)
	}
	return processor.Options{
		Enhance:  enhance,
		Mode:     mode,
		JobID:    p.JobID,
		Metadata: p.Metadata,
	}
}

// Identifier runs an identification request.
type Identifier interface {
	Identify(ctx context.Context, images [][]byte, opts processor.Options) (*processor.IdentifyResult, error)
}

// JobStore persists job status rows.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// JobRunner runs one job through the identification service and records
// every status transition.
type JobRunner struct {
	identifier Identifier
	jobs       JobStore // optional
	timeout    time.Duration
	logger     *logging.Logger
}

// NewJobRunner creates a job runner. A zero timeout uses the default.
func NewJobRunner(identifier Identifier, jobs JobStore, timeout time.Duration) *JobRunner {
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	return &JobRunner{
		identifier: identifier,
		jobs:       jobs,
		timeout:    timeout,
		logger:     logging.NewLogger("Jobs"),
	}
}

// Run processes payload. A missing job id is generated in place.
func (r *JobRunner) Run(ctx context.Context, payload *JobPayload) (*processor.IdentifyResult, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	log := r.logger.With("job_id", payload.JobID)
	startTime := time.Now()

	r.persist(ctx, &storage.JobUpdate{
		JobID:           payload.JobID,
		Status:          "processing",
		ImagesProcessed: len(payload.Images),
		Metadata:        payload.Metadata,
	})

	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.identifier.Identify(processCtx, payload.Images, payload.Options())
	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Warn("Processing timed out", "duration", duration, "timeout", r.timeout)
			err = errors.NewProcessingTimeoutError(payload.JobID, r.timeout, err)
		} else {
			log.Warn("Processing failed", "duration", duration, "error", err)
		}

		update := &storage.JobUpdate{
			JobID:            payload.JobID,
			Status:           "failed",
			ProcessingTimeMs: duration.Milliseconds(),
			ErrorCode:        string(errors.CodeOf(err)),
			ErrorMessage:     err.Error(),
		}
		if update.ErrorCode == "" {
			update.ErrorCode = "PROCESSING_ERROR"
		}
		if pe, ok := err.(*errors.ProcessingError); ok {
			update.Metadata = pe.ToMap()
		}
		r.persist(ctx, update)
		return nil, err
	}

	log.Info("Job completed",
		"match_type", result.MatchType,
		"confidence", result.Confidence,
		"duration", duration)

	r.persist(ctx, &storage.JobUpdate{
		JobID:            payload.JobID,
		Status:           "completed",
		MatchType:        string(result.MatchType),
		Confidence:       result.Confidence,
		ProcessingTimeMs: result.ProcessingTimeMs,
		EngineUsed:       result.EngineUsed,
		ImagesProcessed:  result.ImagesProcessed,
		Result:           result,
	})
	return result, nil
}

// persist records a status change. Failures are logged and returned as
// STORAGE_FAILED; they never fail the job itself.
func (r *JobRunner) persist(ctx context.Context, update *storage.JobUpdate) error {
	if r.jobs == nil {
		return nil
	}
	if err := r.jobs.UpdateJobStatus(ctx, update); err != nil {
		serr := errors.NewStorageFailedError(update.JobID, err)
		r.logger.Warn("Failed to persist job status", "job_id", update.JobID, "status", update.Status, "error", serr)
		return serr
	}
	return nil
}

// Retryable reports whether a failed job may succeed on another attempt.
// Bad input never does.
func Retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrorMalformedInput, errors.ErrorInvalidImage:
		return false
	}
	return true
}
