// Package export runs the PDF export pipeline: policy gate, markup
// sanitization, document templating, serialized rendering, and quota
// accounting. Both the REST handler and the MCP tools call into this
// package with identical semantics.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arlden/pdf-exporter/document"
	"github.com/arlden/pdf-exporter/engine"
	"github.com/arlden/pdf-exporter/gate"
	"github.com/arlden/pdf-exporter/markup"
	"github.com/arlden/pdf-exporter/queue"
	"github.com/arlden/pdf-exporter/telemetry"
	"github.com/arlden/pdf-exporter/usage"
)

// ErrEmptyText indicates a request without content. A validation error, not
// a policy denial; it has no side effects and consumes no quota.
var ErrEmptyText = errors.New("rawText is required")

// DefaultClientBucket is the shared usage bucket for requests without a
// client identifier.
const DefaultClientBucket = "anon"

// DefaultTimeout bounds one export end to end, queue wait included.
const DefaultTimeout = 60 * time.Second

// Request is one export request. ClientID is self-reported and
// unauthenticated; it only selects a usage bucket.
type Request struct {
	RawText  string
	Preset   string
	ClientID string
}

// Receipt references a generated artifact.
type Receipt struct {
	ID          string
	Preset      string
	FileName    string
	DownloadURL string
	Remaining   int
}

// Denial reports why the gate refused a request, with enough data to drive
// an upgrade prompt without another ledger query.
type Denial struct {
	Reason    gate.Reason
	OverBy    int
	Remaining int
}

// Result is the outcome of an admitted-or-denied export. Exactly one of
// Receipt and Denial is set.
type Result struct {
	Receipt *Receipt
	Denial  *Denial
}

// Config holds export pipeline settings.
type Config struct {
	// OutDir is where artifacts are written.
	OutDir string

	// PublicBaseURL is the single configured origin download links are
	// built from.
	PublicBaseURL string

	// Timeout bounds one export end to end. Zero means DefaultTimeout.
	Timeout time.Duration
}

// enginePool abstracts instance acquisition for testing.
type enginePool interface {
	Acquire(ctx context.Context) (engine.Engine, error)
}

// Deps are the pipeline's collaborators, constructed once at process start.
type Deps struct {
	Sanitizer *markup.Sanitizer
	Gate      *gate.Gate
	Ledger    *usage.Ledger
	Queue     *queue.Queue
	Engines   enginePool
}

// Service orchestrates the export pipeline.
type Service struct {
	cfg       Config
	sanitizer *markup.Sanitizer
	gate      *gate.Gate
	ledger    *usage.Ledger
	queue     *queue.Queue
	engines   enginePool
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates the export service.
func New(cfg Config, deps Deps, opts ...Option) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Service{
		cfg:       cfg,
		sanitizer: deps.Sanitizer,
		gate:      deps.Gate,
		ledger:    deps.Ledger,
		queue:     deps.Queue,
		engines:   deps.Engines,
		logger:    slog.Default(),
		newID:     newArtifactID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the freemium policy parameters.
func (s *Service) Limits() gate.Limits {
	return s.gate.Limits()
}

// Remaining reports the client's unconsumed exports in the current window.
func (s *Service) Remaining(clientID string) int {
	if clientID == "" {
		clientID = DefaultClientBucket
	}
	return s.ledger.Remaining(clientID, s.gate.Limits().MaxExports)
}

// Export runs one request through the pipeline. A policy denial is returned
// inside the Result, not as an error; errors mean validation or render
// failure. Quota is consumed only after the render succeeds, so a failed
// render never counts against the client.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.RawText) == "" {
		return nil, ErrEmptyText
	}

	preset := document.Normalize(req.Preset)
	clientID := req.ClientID
	if clientID == "" {
		clientID = DefaultClientBucket
	}

	dec := s.gate.Evaluate(req.RawText, clientID)
	if !dec.Admitted {
		s.logger.Info("export denied",
			"reason", dec.Reason,
			"client_id", clientID,
			"chars", len(req.RawText))
		s.metrics.RecordExport(ctx, "denied", string(dec.Reason), 0)
		return &Result{Denial: &Denial{
			Reason:    dec.Reason,
			OverBy:    dec.OverBy,
			Remaining: dec.Remaining,
		}}, nil
	}

	fragment, err := s.sanitizer.Sanitize(req.RawText)
	if err != nil {
		s.metrics.RecordExport(ctx, "error", "", 0)
		return nil, err
	}
	html := document.Build(fragment, preset)

	id := s.newID()
	fileName := fmt.Sprintf("%s-%s.pdf", preset, id)
	filePath := filepath.Join(s.cfg.OutDir, fileName)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err = s.queue.Submit(ctx, func(jobCtx context.Context) error {
		eng, err := s.engines.Acquire(jobCtx)
		if err != nil {
			return err
		}
		return eng.Render(jobCtx, html, filePath)
	})
	if err != nil {
		s.logger.Error("render failed", "file", fileName, "error", err)
		s.metrics.RecordExport(ctx, "error", "", 0)
		return nil, fmt.Errorf("rendering %s: %w", fileName, err)
	}

	s.ledger.RecordExport(clientID)
	remaining := s.ledger.Remaining(clientID, s.gate.Limits().MaxExports)

	s.logger.Info("export complete",
		"file", fileName,
		"preset", preset,
		"client_id", clientID,
		"duration", time.Since(start))
	s.metrics.RecordExport(ctx, "ok", "", time.Since(start))

	return &Result{Receipt: &Receipt{
		ID:          id,
		Preset:      preset,
		FileName:    fileName,
		DownloadURL: s.downloadURL(fileName),
		Remaining:   remaining,
	}}, nil
}

func (s *Service) downloadURL(fileName string) string {
	return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/downloads/" + fileName
}

// newArtifactID returns a short unique artifact identifier.
func newArtifactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
