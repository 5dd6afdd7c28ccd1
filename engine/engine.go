// Package engine owns the single shared headless-browser instance used for
// PDF rendering. The instance is created lazily on first demand, reused
// across jobs, and dropped (never repaired) when it disconnects; the next
// acquisition starts a fresh one.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// A4 page dimensions in inches.
const (
	paperWidthInches  = 8.27
	paperHeightInches = 11.69
)

// Engine is one running rendering-engine instance. Render is not safe for
// concurrent use; the render queue guarantees one job at a time.
type Engine interface {
	// Render loads html in an isolated execution context and writes the
	// resulting PDF to filePath. The context is always torn down, success
	// or failure.
	Render(ctx context.Context, html, filePath string) error

	// Close shuts the instance down.
	Close() error

	// Done is closed when the instance disconnects out-of-band (crash,
	// OOM-kill, explicit close).
	Done() <-chan struct{}
}

// LaunchFunc starts a new engine instance. ctx bounds the whole startup.
type LaunchFunc func(ctx context.Context) (Engine, error)

// LaunchConfig configures browser startup and per-job stage bounds.
type LaunchConfig struct {
	// Bin is an explicit browser binary. Empty lets rod resolve or
	// download a managed Chromium.
	Bin string

	// NoSandbox disables the Chrome sandbox, required in most containers.
	NoSandbox bool

	// StageTimeout bounds each render sub-step (context creation, page
	// creation, content load, export) individually.
	StageTimeout time.Duration

	// SettleDelay is a brief pause after load for font and layout
	// stabilization in containers.
	SettleDelay time.Duration
}

// DefaultStageTimeout bounds each render sub-step.
const DefaultStageTimeout = 20 * time.Second

// DefaultSettleDelay follows the content load before PDF export.
const DefaultSettleDelay = 50 * time.Millisecond

func (c LaunchConfig) withDefaults() LaunchConfig {
	if c.StageTimeout <= 0 {
		c.StageTimeout = DefaultStageTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	return c
}

// Launcher returns a LaunchFunc that starts a headless Chromium via rod.
func Launcher(cfg LaunchConfig) LaunchFunc {
	cfg = cfg.withDefaults()

	return func(ctx context.Context) (Engine, error) {
		type result struct {
			engine Engine
			err    error
		}
		ch := make(chan result, 1)

		// Launch and connect in a goroutine so a wedged startup cannot
		// outlive the startup deadline.
		go func() {
			e, err := launchBrowser(cfg)
			ch <- result{engine: e, err: err}
		}()

		select {
		case <-ctx.Done():
			// A launch that completes after the deadline still owns a
			// process; reap it.
			go func() {
				if r := <-ch; r.engine != nil {
					_ = r.engine.Close()
				}
			}()
			return nil, fmt.Errorf("%w: %v", ErrEngineStart, ctx.Err())
		case r := <-ch:
			return r.engine, r.err
		}
	}
}

func launchBrowser(cfg LaunchConfig) (Engine, error) {
	l := launcher.New()

	bin := cfg.Bin
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}
	if bin != "" {
		l = l.Bin(bin)
	}

	// NoSandbox required for CI and containerized environments
	if cfg.NoSandbox || os.Getenv("CI") == "true" || bin != "" {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineStart, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineStart, err)
	}

	e := &rodEngine{
		browser: browser,
		cfg:     cfg,
		done:    make(chan struct{}),
	}

	// The event stream closes when the CDP connection drops, which is the
	// out-of-band disconnect signal.
	go func() {
		for range browser.Event() {
		}
		close(e.done)
	}()

	return e, nil
}

// rodEngine implements Engine on a connected rod browser.
type rodEngine struct {
	browser *rod.Browser
	cfg     LaunchConfig
	done    chan struct{}
}

func (e *rodEngine) Done() <-chan struct{} {
	return e.done
}

func (e *rodEngine) Close() error {
	return e.browser.Close()
}

// Render runs one job: isolated context, page, content load, brief settle,
// PDF export. Each sub-step is individually time-bounded and failures carry
// the owning stage's sentinel. The isolated context is disposed on every
// exit path so jobs never share state.
//
// A job that arrives after the instance disconnected fails immediately with
// ErrEngineGone; a failure during a render is tagged the same way when the
// disconnect is the likely cause.
func (e *rodEngine) Render(ctx context.Context, html, filePath string) error {
	select {
	case <-e.done:
		return ErrEngineGone
	default:
	}

	if err := e.render(ctx, html, filePath); err != nil {
		select {
		case <-e.done:
			return fmt.Errorf("%w: %v", ErrEngineGone, err)
		default:
			return err
		}
	}
	return nil
}

func (e *rodEngine) render(ctx context.Context, html, filePath string) error {
	bctx, err := e.createBrowserContext(ctx)
	if err != nil {
		return err
	}
	defer e.disposeBrowserContext(bctx)

	page, err := e.openPage(ctx, bctx)
	if err != nil {
		return err
	}
	defer page.Close()

	if err := e.loadContent(ctx, page, html); err != nil {
		return err
	}

	// Brief settle for fonts/layout in containers.
	select {
	case <-time.After(e.cfg.SettleDelay):
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrExportPDF, ctx.Err())
	}

	return e.exportPDF(ctx, page, filePath)
}

// stage derives a sub-step context bounded by both the job deadline and the
// per-stage timeout.
func (e *rodEngine) stage(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.StageTimeout)
}

func (e *rodEngine) createBrowserContext(ctx context.Context) (proto.BrowserBrowserContextID, error) {
	sctx, cancel := e.stage(ctx)
	defer cancel()

	res, err := proto.TargetCreateBrowserContext{}.Call(e.browser.Context(sctx))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrContextCreate, err)
	}
	return res.BrowserContextID, nil
}

// disposeBrowserContext is best-effort teardown with its own short bound so
// a dead browser cannot stall the exit path.
func (e *rodEngine) disposeBrowserContext(id proto.BrowserBrowserContextID) {
	sctx, cancel := context.WithTimeout(context.Background(), e.cfg.StageTimeout)
	defer cancel()

	_ = proto.TargetDisposeBrowserContext{BrowserContextID: id}.Call(e.browser.Context(sctx))
}

func (e *rodEngine) openPage(ctx context.Context, bctx proto.BrowserBrowserContextID) (*rod.Page, error) {
	sctx, cancel := e.stage(ctx)
	defer cancel()

	target, err := proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: bctx,
	}.Call(e.browser.Context(sctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}

	page, err := e.browser.PageFromTarget(target.TargetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	return page, nil
}

// loadContent sets the document and waits only for structural stability,
// not full resource/network settle.
func (e *rodEngine) loadContent(ctx context.Context, page *rod.Page, html string) error {
	sctx, cancel := e.stage(ctx)
	defer cancel()

	p := page.Context(sctx)
	if err := p.SetDocumentContent(html); err != nil {
		return fmt.Errorf("%w: %v", ErrContentLoad, err)
	}
	if err := p.WaitDOMStable(100*time.Millisecond, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrContentLoad, err)
	}
	return nil
}

func (e *rodEngine) exportPDF(ctx context.Context, page *rod.Page, filePath string) error {
	sctx, cancel := e.stage(ctx)
	defer cancel()

	reader, err := page.Context(sctx).PDF(&proto.PagePrintToPDF{
		PaperWidth:        floatPtr(paperWidthInches),
		PaperHeight:       floatPtr(paperHeightInches),
		PrintBackground:   true,
		PreferCSSPageSize: true, // honor the template's @page margins
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportPDF, err)
	}

	pdfBuf, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("%w: reading PDF stream: %v", ErrExportPDF, err)
	}

	// #nosec G306 -- generated PDFs are served for download
	if err := os.WriteFile(filePath, pdfBuf, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWritePDF, err)
	}
	return nil
}

// floatPtr returns a pointer to a float64 value.
func floatPtr(v float64) *float64 {
	return &v
}
