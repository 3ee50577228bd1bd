/**
 * OCR Engine Set
 *
 * Adapters are probed once in priority order. The first that initializes
 * becomes the active engine; the rest stay available for fusion. Engine
 * failures never leave this package as errors: they are folded into
 * Result.Error.
 */

package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adverant/nexus/drugid-worker/internal/errors"
	"github.com/adverant/nexus/drugid-worker/internal/imageproc"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
)

// NullEngine names the placeholder engine used when nothing initialized.
const NullEngine = "none"

// Adapter constructs a recognition handle for one engine kind.
type Adapter interface {
	Name() string
	Initialize(ctx context.Context) (Handle, error)
}

// Handle is an initialized engine. Implementations that are not safe for
// concurrent use must serialize Extract themselves.
type Handle interface {
	Extract(ctx context.Context, img *imageproc.Image) (*Result, error)
	Close() error
}

type engine struct {
	name   string
	handle Handle
	err    error
}

// EngineSet owns the process-lifetime engine handles.
type EngineSet struct {
	adapters []Adapter
	logger   *logging.Logger

	probeOnce sync.Once
	engines   []engine
	active    *engine
}

// NewEngineSet creates an engine set; adapters are listed highest priority first.
func NewEngineSet(adapters []Adapter, logger *logging.Logger) *EngineSet {
	if logger == nil {
		logger = logging.NewLogger("OCR")
	}
	return &EngineSet{adapters: adapters, logger: logger}
}

// Probe initializes every adapter once. Later calls are no-ops.
func (s *EngineSet) Probe(ctx context.Context) {
	s.probeOnce.Do(func() {
		s.engines = make([]engine, 0, len(s.adapters))
		for _, a := range s.adapters {
			h, err := a.Initialize(ctx)
			if err != nil {
				s.logger.Warn("OCR engine unavailable", "engine", a.Name(), "error", err)
				s.engines = append(s.engines, engine{name: a.Name(), err: errors.NewEngineUnavailableError(a.Name(), err)})
				continue
			}
			s.logger.Info("OCR engine initialized", "engine", a.Name())
			s.engines = append(s.engines, engine{name: a.Name(), handle: h})
		}
		for i := range s.engines {
			if s.engines[i].handle != nil {
				s.active = &s.engines[i]
				break
			}
		}
		if s.active == nil {
			s.logger.Error("No OCR engine initialized; recognition will return empty results")
		} else {
			s.logger.Info("Active OCR engine selected", "engine", s.active.name)
		}
	})
}

// ActiveEngine returns the name of the default engine, or NullEngine.
func (s *EngineSet) ActiveEngine() string {
	s.Probe(context.Background())
	if s.active == nil {
		return NullEngine
	}
	return s.active.name
}

// Available reports every registered adapter and its state.
func (s *EngineSet) Available() []EngineStatus {
	s.Probe(context.Background())
	out := make([]EngineStatus, 0, len(s.engines))
	for i := range s.engines {
		e := &s.engines[i]
		st := EngineStatus{
			Name:        e.name,
			Initialized: e.handle != nil,
			Active:      e == s.active,
		}
		if e.err != nil {
			st.Error = e.err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Extract dispatches on mode.
func (s *EngineSet) Extract(ctx context.Context, img *imageproc.Image, mode Mode) *Result {
	switch mode {
	case ModeFusion:
		return s.ExtractFusion(ctx, img)
	case ModeSpecialized:
		return s.ExtractSpecialized(ctx, img, DrugBoxProfile)
	default:
		return s.ExtractDefault(ctx, img)
	}
}

// ExtractDefault runs the active engine.
func (s *EngineSet) ExtractDefault(ctx context.Context, img *imageproc.Image) *Result {
	s.Probe(ctx)
	if s.active == nil {
		return s.nullResult()
	}
	return safeExtract(ctx, s.active.name, s.active.handle, img)
}

// ExtractFusion runs every initialized engine concurrently and keeps the
// result with the highest mean line confidence; ties go to the higher
// priority engine.
func (s *EngineSet) ExtractFusion(ctx context.Context, img *imageproc.Image) *Result {
	s.Probe(ctx)

	var ready []*engine
	for i := range s.engines {
		if s.engines[i].handle != nil {
			ready = append(ready, &s.engines[i])
		}
	}
	if len(ready) == 0 {
		return s.nullResult()
	}

	results := make([]*Result, len(ready))
	var wg sync.WaitGroup
	for i, e := range ready {
		wg.Add(1)
		go func(i int, e *engine) {
			defer wg.Done()
			results[i] = safeExtract(ctx, e.name, e.handle, img)
		}(i, e)
	}
	wg.Wait()

	invoked := make([]string, len(ready))
	var best *Result
	bestScore := -1.0
	var failures []string
	for i, r := range results {
		invoked[i] = ready[i].name
		if r.Error != "" {
			failures = append(failures, r.Engine+": "+r.Error)
		}
		if len(r.Lines) == 0 {
			continue
		}
		if score := r.MeanConfidence(); score > bestScore {
			best, bestScore = r, score
		}
	}

	if best == nil {
		res := nullResultWithCause("no OCR engine produced text")
		if len(failures) > 0 {
			res.Error += ": " + strings.Join(failures, "; ")
		}
		res.Engines = invoked
		return res
	}

	best.Engines = invoked
	return best
}

// ExtractSpecialized runs the active engine and applies profile cleanup.
func (s *EngineSet) ExtractSpecialized(ctx context.Context, img *imageproc.Image, profile *Profile) *Result {
	return profile.Apply(s.ExtractDefault(ctx, img))
}

// Close releases every handle.
func (s *EngineSet) Close() error {
	var errs []string
	for _, e := range s.engines {
		if e.handle == nil {
			continue
		}
		if err := e.handle.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", e.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close OCR engines: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *EngineSet) nullResult() *Result {
	var causes []string
	for _, e := range s.engines {
		if e.err != nil {
			causes = append(causes, e.err.Error())
		}
	}
	var cause error
	if len(causes) > 0 {
		cause = fmt.Errorf("%s", strings.Join(causes, "; "))
	}
	return nullResultWithCause(errors.NewEngineUnavailableError("", cause).Error())
}

func nullResultWithCause(cause string) *Result {
	return &Result{
		Lines:  []Line{},
		Engine: NullEngine,
		Error:  cause,
	}
}

// safeExtract calls h and converts errors and panics into Result.Error.
func safeExtract(ctx context.Context, name string, h Handle, img *imageproc.Image) (res *Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = &Result{Lines: []Line{}, Engine: name, Error: fmt.Sprintf("engine panic: %v", p)}
		}
		res.Duration = time.Since(start)
		status := "ok"
		if res.Error != "" {
			status = "error"
		}
		metrics.OCREngineCallsTotal.WithLabelValues(name, status).Inc()
	}()

	r, err := h.Extract(ctx, img)
	if err != nil {
		return &Result{Lines: []Line{}, Engine: name, Error: err.Error()}
	}
	if r == nil {
		return &Result{Lines: []Line{}, Engine: name, Error: "engine returned no result"}
	}
	if r.Engine == "" {
		r.Engine = name
	}
	if r.Lines == nil {
		r.Lines = []Line{}
	}
	return r
}
