// Package ocr turns captured images into searchable text.
//
// A Worker owns one recognition engine, initialized lazily on first use with
// the configured languages and falling back to a smaller language set when
// the full set cannot be loaded.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hpungsan/scrapflow/internal/config"
	"github.com/hpungsan/scrapflow/internal/errors"
)

// State is the lifecycle state of a Worker.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDegraded // running on the fallback languages
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Worker.
type Options struct {
	Languages         []string
	FallbackLanguages []string
	CacheSize         int
	Logger            *slog.Logger
}

// Status is a snapshot of the worker for diagnostics.
type Status struct {
	State        string   `json:"state"`
	Languages    []string `json:"languages,omitempty"`
	CacheEntries int      `json:"cache_entries"`
}

// Worker recognizes text in images. Its methods may be called from several
// goroutines, but recognitions are not queued: callers that need ordering
// (such as a backfill) must serialize their own calls.
type Worker struct {
	factory  EngineFactory
	primary  []string
	fallback []string
	logger   *slog.Logger

	// initMu serializes Initialize so only one engine is ever built at a time
	initMu sync.Mutex

	mu        sync.Mutex
	state     State
	engine    Engine
	languages []string
	cache     *resultCache
}

// NewWorker creates an uninitialized Worker. No engine is built until the
// first Initialize or Recognize call.
func NewWorker(factory EngineFactory, opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		factory:  factory,
		primary:  opts.Languages,
		fallback: opts.FallbackLanguages,
		logger:   logger,
		state:    StateUninitialized,
		cache:    newResultCache(opts.CacheSize),
	}
}

// NewWorkerFromConfig creates a Worker backed by the tesseract CLI.
func NewWorkerFromConfig(cfg *config.Config, logger *slog.Logger) *Worker {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return NewWorker(NewTesseractFactory(cfg.TesseractPath, logger), Options{
		Languages:         cfg.OCRLanguages,
		FallbackLanguages: cfg.OCRFallbackLanguages,
		CacheSize:         cfg.OCRCacheSize,
		Logger:            logger,
	})
}

// Initialize builds the engine if it is not built yet. It tries the primary
// languages first and the fallback languages second. When both fail the
// worker returns to the uninitialized state so a later call can retry.
func (w *Worker) Initialize(ctx context.Context) error {
	w.initMu.Lock()
	defer w.initMu.Unlock()

	w.mu.Lock()
	switch w.state {
	case StateReady, StateDegraded:
		w.mu.Unlock()
		return nil
	case StateTerminated:
		w.mu.Unlock()
		return errors.NewRecognitionUnavailable(fmt.Errorf("worker terminated"))
	}
	w.state = StateInitializing
	w.mu.Unlock()

	engine, languages, next, err := w.buildEngine(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Terminate ran while the engine was loading
	if w.state == StateTerminated {
		if engine != nil {
			_ = engine.Close()
		}
		return errors.NewRecognitionUnavailable(fmt.Errorf("worker terminated"))
	}

	if err != nil {
		w.state = StateUninitialized
		w.logger.Error("ocr: initialization failed", "error", err)
		return errors.NewRecognitionUnavailable(err)
	}

	w.engine = engine
	w.languages = languages
	w.state = next
	w.logger.Info("ocr: initialized", "state", next.String(), "languages", strings.Join(languages, "+"))
	return nil
}

func (w *Worker) buildEngine(ctx context.Context) (Engine, []string, State, error) {
	if w.factory == nil {
		return nil, nil, StateUninitialized, fmt.Errorf("no recognition engine configured")
	}

	var primaryErr error
	if len(w.primary) > 0 {
		engine, err := w.factory(ctx, w.primary)
		if err == nil {
			return engine, w.primary, StateReady, nil
		}
		primaryErr = err
		w.logger.Warn("ocr: primary languages unavailable, trying fallback",
			"languages", strings.Join(w.primary, "+"),
			"error", err)
	}

	if len(w.fallback) == 0 {
		if primaryErr == nil {
			primaryErr = fmt.Errorf("no languages configured")
		}
		return nil, nil, StateUninitialized, primaryErr
	}

	engine, err := w.factory(ctx, w.fallback)
	if err != nil {
		if primaryErr != nil {
			return nil, nil, StateUninitialized, fmt.Errorf("%v; fallback: %w", primaryErr, err)
		}
		return nil, nil, StateUninitialized, err
	}
	if primaryErr == nil {
		// Only fallback languages were configured
		return engine, w.fallback, StateReady, nil
	}
	return engine, w.fallback, StateDegraded, nil
}

// Recognize returns the normalized text in the image at imagePath,
// initializing the engine on first use. An image with no text and a failed
// recognition both yield "" with a nil error; the failure is logged.
// An error is returned only when the engine cannot be initialized, the
// worker has been terminated, or ctx is done.
func (w *Worker) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := w.Initialize(ctx); err != nil {
		return "", err
	}

	key, err := keyForFile(imagePath)
	if err != nil {
		w.logger.Warn("ocr: image unreadable", "path", imagePath, "error", err)
		return "", nil
	}

	w.mu.Lock()
	if w.state == StateTerminated {
		w.mu.Unlock()
		return "", errors.NewRecognitionUnavailable(fmt.Errorf("worker terminated"))
	}
	if text, ok := w.cache.get(key); ok {
		w.mu.Unlock()
		w.logger.Debug("ocr: cache hit", "path", imagePath)
		return text, nil
	}
	engine := w.engine
	w.mu.Unlock()

	raw, err := engine.Recognize(ctx, imagePath)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		w.logger.Warn("ocr: recognition failed", "path", imagePath, "error", err)
		return "", nil
	}

	text := Normalize(raw)
	w.logger.Debug("ocr: recognized", "path", imagePath, "chars", len([]rune(text)))

	w.mu.Lock()
	if w.state != StateTerminated {
		w.cache.put(key, text)
	}
	w.mu.Unlock()

	return text, nil
}

// Terminate releases the engine. It is safe to call on a worker that was
// never initialized and safe to call more than once. Every later call on the
// worker fails with RECOGNITION_UNAVAILABLE.
func (w *Worker) Terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateTerminated {
		return
	}
	if w.engine != nil {
		if err := w.engine.Close(); err != nil {
			w.logger.Warn("ocr: engine close failed", "error", err)
		}
		w.engine = nil
	}
	w.languages = nil
	w.cache.clear()
	w.state = StateTerminated
	w.logger.Info("ocr: terminated")
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Status returns a snapshot of the worker.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		State:        w.state.String(),
		Languages:    append([]string(nil), w.languages...),
		CacheEntries: w.cache.size(),
	}
}
