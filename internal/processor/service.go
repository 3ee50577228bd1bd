/**
 * Identification Service for the Drug Identification Worker
 *
 * Orchestrates one identification request:
 * - per image, in parallel: normalize -> OCR -> field extraction
 * - fan-in in input order, cross-image merge
 * - registry resolution through the match cascade
 * - optional archival of the raw uploads
 */

package processor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/drugid-worker/internal/clients"
	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/errors"
	"github.com/adverant/nexus/drugid-worker/internal/imageproc"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/matcher"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
	"github.com/adverant/nexus/drugid-worker/internal/ocr"
	"github.com/adverant/nexus/drugid-worker/internal/parser"
)

// OCRTextSeparator joins the raw text of consecutive images.
const OCRTextSeparator = "\n---\n"

const archiveTimeout = 30 * time.Second

var lookupApprovalPattern = regexp.MustCompile(`^国药准字[A-Z]\d{6,}$`)

// Normalizer turns raw bytes into a normalized image.
type Normalizer interface {
	Normalize(raw []byte, enhance bool) (*imageproc.Image, error)
}

// Recognizer runs OCR over normalized images.
type Recognizer interface {
	Extract(ctx context.Context, img *imageproc.Image, mode ocr.Mode) *ocr.Result
	Available() []ocr.EngineStatus
	ActiveEngine() string
}

// Matcher resolves merged fields against the registry.
type Matcher interface {
	Match(ctx context.Context, fields parser.MergedFields) *matcher.MatchResult
}

// Archiver stores raw uploads.
type Archiver interface {
	UploadArtifact(ctx context.Context, req *clients.ArtifactUploadRequest) (*clients.ArtifactUploadResponse, error)
}

// ServiceConfig holds service dependencies and limits
type ServiceConfig struct {
	Normalizer Normalizer
	Engines    Recognizer
	Resolver   Matcher
	Archiver   Archiver // optional

	ImageConcurrency int
	ImageTimeout     time.Duration
	DefaultMode      ocr.Mode
}

// Options are per-request settings.
type Options struct {
	Enhance  bool
	Mode     ocr.Mode // empty uses the service default
	JobID    string   // generated when empty
	Metadata map[string]interface{}
}

// IdentifyResult is the full identification response.
type IdentifyResult struct {
	*matcher.MatchResult

	OCRText          string              `json:"ocr_text"`
	OCRLines         []ocr.Line          `json:"ocr_lines"`
	ParsedInfo       parser.MergedFields `json:"parsed_info"`
	ImagesProcessed  int                 `json:"images_processed"`
	ImagesSkipped    int                 `json:"images_skipped"`
	EngineUsed       string              `json:"ocr_engine"`
	OCRErrors        []string            `json:"ocr_errors,omitempty"`
	ProcessingTimeMs int64               `json:"process_time_ms"`
	RequestID        string              `json:"request_id"`
}

// OCRReport is the OCR-only diagnostic response.
type OCRReport struct {
	Success          bool                `json:"success"`
	MatchType        string              `json:"match_type"`
	Confidence       float64             `json:"confidence"`
	OCRText          string              `json:"ocr_text"`
	OCRLines         []ocr.Line          `json:"ocr_lines"`
	ParsedInfo       parser.MergedFields `json:"parsed_info"`
	ImagesProcessed  int                 `json:"images_processed"`
	ImagesSkipped    int                 `json:"images_skipped"`
	EngineUsed       string              `json:"ocr_engine"`
	OCRErrors        []string            `json:"ocr_errors,omitempty"`
	ProcessingTimeMs int64               `json:"process_time_ms"`
	RequestID        string              `json:"request_id"`
}

// Service runs identification requests. It is safe for concurrent use.
type Service struct {
	cfg       ServiceConfig
	extractor *parser.Extractor
	logger    *logging.Logger
}

// NewService creates a new identification service
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}
	if cfg.Engines == nil {
		return nil, fmt.Errorf("OCR engine set is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("match resolver is required")
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 4
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 30 * time.Second
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ocr.ModeDefault
	}

	return &Service{
		cfg:       cfg,
		extractor: parser.NewExtractor(),
		logger:    logging.NewLogger("Service"),
	}, nil
}

// imageOutcome is what one image contributed to a request.
type imageOutcome struct {
	result *ocr.Result
	fields parser.ParsedFields
	err    error // set when the image was skipped
}

// batch is the fan-in of every image of a request.
type batch struct {
	requestID string
	started   time.Time
	outcomes  []imageOutcome
}

func (b *batch) survivors() []imageOutcome {
	out := make([]imageOutcome, 0, len(b.outcomes))
	for _, o := range b.outcomes {
		if o.err == nil {
			out = append(out, o)
		}
	}
	return out
}

func (b *batch) ocrText() string {
	var texts []string
	for _, o := range b.survivors() {
		texts = append(texts, o.result.RawText)
	}
	return strings.Join(texts, OCRTextSeparator)
}

func (b *batch) ocrLines() []ocr.Line {
	lines := []ocr.Line{}
	for _, o := range b.survivors() {
		lines = append(lines, o.result.Lines...)
	}
	return lines
}

func (b *batch) merged() parser.MergedFields {
	var infos []parser.ParsedFields
	for _, o := range b.survivors() {
		infos = append(infos, o.fields)
	}
	return parser.Merge(infos)
}

// errorMessages lists engine errors and skipped-image errors, sorted and
// without duplicates.
func (b *batch) errorMessages() []string {
	seen := map[string]bool{}
	var out []string
	add := func(msg string) {
		if msg != "" && !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
	}
	for _, o := range b.outcomes {
		if o.err != nil {
			add(o.err.Error())
		} else {
			add(o.result.Error)
		}
	}
	sort.Strings(out)
	return out
}

// engineUsed lists the engines that produced the surviving results in order
// of first use.
func (b *batch) engineUsed() string {
	seen := map[string]bool{}
	var names []string
	for _, o := range b.survivors() {
		for _, name := range append([]string{o.result.Engine}, o.result.Engines...) {
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return strings.Join(names, ",")
}

func (b *batch) elapsedMs() int64 {
	return time.Since(b.started).Milliseconds()
}

// Identify runs the full pipeline over images.
func (s *Service) Identify(ctx context.Context, images [][]byte, opts Options) (*IdentifyResult, error) {
	b, err := s.run(ctx, images, opts)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("request_id", b.requestID)

	fields := b.merged()

	start := time.Now()
	match := s.cfg.Resolver.Match(ctx, fields)
	metrics.StageDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	metrics.IdentificationsTotal.WithLabelValues(string(match.MatchType), fmt.Sprint(match.Success)).Inc()

	res := &IdentifyResult{
		MatchResult:      match,
		OCRText:          b.ocrText(),
		OCRLines:         b.ocrLines(),
		ParsedInfo:       fields,
		ImagesProcessed:  len(b.survivors()),
		ImagesSkipped:    len(b.outcomes) - len(b.survivors()),
		EngineUsed:       b.engineUsed(),
		OCRErrors:        b.errorMessages(),
		ProcessingTimeMs: b.elapsedMs(),
		RequestID:        b.requestID,
	}

	log.Info("Identification complete",
		"match_type", match.MatchType,
		"success", match.Success,
		"confidence", match.Confidence,
		"images", res.ImagesProcessed,
		"skipped", res.ImagesSkipped,
		"duration_ms", res.ProcessingTimeMs)

	s.archive(ctx, b.requestID, images, opts.Metadata)
	return res, nil
}

// OCROnly runs normalization, OCR and extraction without registry resolution.
func (s *Service) OCROnly(ctx context.Context, images [][]byte, opts Options) (*OCRReport, error) {
	b, err := s.run(ctx, images, opts)
	if err != nil {
		return nil, err
	}

	fields := b.merged()
	text := b.ocrText()
	return &OCRReport{
		Success:          strings.TrimSpace(text) != "" || hasAnyField(fields),
		MatchType:        "ocr_only",
		Confidence:       fields.Confidence,
		OCRText:          text,
		OCRLines:         b.ocrLines(),
		ParsedInfo:       fields,
		ImagesProcessed:  len(b.survivors()),
		ImagesSkipped:    len(b.outcomes) - len(b.survivors()),
		EngineUsed:       b.engineUsed(),
		OCRErrors:        b.errorMessages(),
		ProcessingTimeMs: b.elapsedMs(),
		RequestID:        b.requestID,
	}, nil
}

// Lookup resolves a search term, optionally scoped to an enterprise, as if
// it had been read as the generic name. A term shaped like an approval
// number is also tried as one.
func (s *Service) Lookup(ctx context.Context, term string, enterprise *string) *matcher.MatchResult {
	term = strings.TrimSpace(term)
	fields := parser.MergedFields{
		GenericName: parser.String(term),
		AllTexts:    []string{},
	}
	if enterprise != nil && strings.TrimSpace(*enterprise) != "" {
		fields.Enterprise = parser.String(strings.TrimSpace(*enterprise))
	}
	if canon := domain.CanonicalApprovalNo(term); lookupApprovalPattern.MatchString(canon) {
		fields.ApprovalNo = parser.String(canon)
	}

	match := s.cfg.Resolver.Match(ctx, fields)
	metrics.IdentificationsTotal.WithLabelValues(string(match.MatchType), fmt.Sprint(match.Success)).Inc()
	return match
}

// Engines reports every registered OCR engine.
func (s *Service) Engines() []ocr.EngineStatus {
	return s.cfg.Engines.Available()
}

func (s *Service) run(ctx context.Context, images [][]byte, opts Options) (*batch, error) {
	b := &batch{requestID: opts.JobID, started: time.Now()}
	if b.requestID == "" {
		b.requestID = uuid.New().String()
	}
	if len(images) == 0 {
		return nil, errors.NewMalformedInputError(b.requestID, "no images supplied")
	}

	mode := opts.Mode
	if mode == "" {
		mode = s.cfg.DefaultMode
	}

	b.outcomes = s.processImages(ctx, images, opts.Enhance, mode)
	if len(b.survivors()) == 0 {
		return nil, errors.NewMalformedInputError(b.requestID,
			fmt.Sprintf("none of %d images could be processed: %s",
				len(images), strings.Join(b.errorMessages(), "; ")))
	}
	return b, nil
}

// processImages fans out one goroutine per image, at most ImageConcurrency
// at a time. Outcomes are returned in input order.
func (s *Service) processImages(ctx context.Context, images [][]byte, enhance bool, mode ocr.Mode) []imageOutcome {
	outcomes := make([]imageOutcome, len(images))
	sem := make(chan struct{}, s.cfg.ImageConcurrency)
	var wg sync.WaitGroup

	for i, raw := range images {
		wg.Add(1)
		go func(i int, raw []byte) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = imageOutcome{err: errors.NewProcessingTimeoutError("", 0, ctx.Err())}
				return
			}
			outcomes[i] = s.processImage(ctx, i, raw, enhance, mode)
		}(i, raw)
	}
	wg.Wait()
	return outcomes
}

// processImage runs one image under its own deadline. A stage that ignores
// the deadline is abandoned and its late outcome discarded.
func (s *Service) processImage(ctx context.Context, index int, raw []byte, enhance bool, mode ocr.Mode) imageOutcome {
	ictx, cancel := context.WithTimeout(ctx, s.cfg.ImageTimeout)
	defer cancel()

	done := make(chan imageOutcome, 1)
	go func() {
		done <- s.pipeline(ictx, index, raw, enhance, mode)
	}()

	select {
	case out := <-done:
		if out.err != nil {
			metrics.ImagesTotal.WithLabelValues("invalid").Inc()
		} else {
			metrics.ImagesTotal.WithLabelValues("ok").Inc()
		}
		return out
	case <-ictx.Done():
		metrics.ImagesTotal.WithLabelValues("timeout").Inc()
		return imageOutcome{err: errors.NewImageTimeoutError(index, s.cfg.ImageTimeout)}
	}
}

func (s *Service) pipeline(ctx context.Context, index int, raw []byte, enhance bool, mode ocr.Mode) imageOutcome {
	start := time.Now()
	img, err := s.cfg.Normalizer.Normalize(raw, enhance)
	metrics.StageDuration.WithLabelValues("normalize").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("Skipping image", "index", index, "error", err)
		return imageOutcome{err: fmt.Errorf("image %d: %w", index, err)}
	}

	start = time.Now()
	res := s.cfg.Engines.Extract(ctx, img, mode)
	metrics.StageDuration.WithLabelValues("ocr").Observe(time.Since(start).Seconds())

	start = time.Now()
	fields := s.extractor.Parse(res)
	metrics.StageDuration.WithLabelValues("parse").Observe(time.Since(start).Seconds())

	return imageOutcome{result: res, fields: fields}
}

// archive uploads the raw images in the background; failures are logged only.
func (s *Service) archive(ctx context.Context, requestID string, images [][]byte, metadata map[string]interface{}) {
	if s.cfg.Archiver == nil {
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	go func() {
		defer cancel()
		for i, raw := range images {
			mime := DetectImageType(raw)
			resp, err := s.cfg.Archiver.UploadArtifact(actx, &clients.ArtifactUploadRequest{
				Data:     raw,
				Filename: fmt.Sprintf("%s_%d%s", requestID, i, extensionFor(mime)),
				MimeType: mime,
				JobID:    requestID,
				Metadata: metadata,
			})
			if err != nil {
				s.logger.Warn("Failed to archive upload", "request_id", requestID, "index", i, "error", err)
				continue
			}
			s.logger.Debug("Upload archived", "request_id", requestID, "index", i, "artifact_id", resp.Artifact.ID)
		}
	}()
}

func hasAnyField(f parser.MergedFields) bool {
	for _, p := range []*string{f.ApprovalNo, f.GenericName, f.BrandName, f.Enterprise, f.Spec, f.DosageForm, f.OTCType} {
		if p != nil {
			return true
		}
	}
	return false
}
