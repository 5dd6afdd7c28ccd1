// Package server provides the HTTP front door for the PDF exporter: the REST
// API, artifact downloads, the MCP endpoint, and operational routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arlden/pdf-exporter/billing"
	"github.com/arlden/pdf-exporter/document"
	"github.com/arlden/pdf-exporter/export"
	"github.com/arlden/pdf-exporter/gate"
	"github.com/arlden/pdf-exporter/telemetry"
)

// maxBodyBytes caps request bodies well above the free-tier character limit
// so oversized submissions still reach the policy gate and get a 402 rather
// than an opaque connection error.
const maxBodyBytes = 2 << 20

// clientIDHeader carries the self-reported client identifier. It wins over
// the body field when both are present.
const clientIDHeader = "X-Client-ID"

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":3000")
	Address string

	// BaseURL is the public origin, used for MCP session URLs and the
	// editor link returned by the open_editor tool.
	BaseURL string

	// OutDir is where artifacts are read from for downloads.
	OutDir string

	// UpgradeURL is included in denial responses.
	UpgradeURL string

	// Version is reported on the health route and to MCP clients.
	Version string

	// Logger for the server
	Logger *slog.Logger
}

// exporter is the export pipeline surface the handlers need.
type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
	Limits() gate.Limits
	Remaining(clientID string) int
}

// checkout is the billing surface the handlers need. It is nil when no
// Stripe key is configured.
type checkout interface {
	CreateCheckoutSession(ctx context.Context, plan billing.Plan, clientID string) (string, error)
}

// Server is the HTTP server for the PDF exporter.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	exporter exporter
	billing  checkout
}

// Option configures a Server.
type Option func(*Server)

// WithBilling enables the checkout route.
func WithBilling(c checkout) Option {
	return func(s *Server) { s.billing = c }
}

// New creates a new server with the given configuration.
func New(cfg Config, exp exporter, opts ...Option) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":3000"
	}
	if cfg.UpgradeURL == "" {
		cfg.UpgradeURL = "/upgrade"
	}

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		exporter: exp,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // renders can queue behind each other
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("POST /api/create-pdf", s.handleCreatePDF)
	mux.HandleFunc("GET /api/quota", s.handleQuota)
	mux.HandleFunc("POST /api/checkout", s.handleCheckout)

	mux.HandleFunc("GET /downloads/{file}", s.handleDownload)

	// MCP endpoint for agent clients
	s.registerMCP(mux)
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// createPDFRequest is the REST request body.
type createPDFRequest struct {
	RawText  string `json:"rawText"`
	Preset   string `json:"preset"`
	ClientID string `json:"clientId"`
}

// receiptResponse is the success response body. The limits ride along so the
// client can show quota state without a second request.
type receiptResponse struct {
	OK                   bool   `json:"ok"`
	ID                   string `json:"id"`
	Preset               string `json:"preset"`
	FileName             string `json:"fileName"`
	DownloadURL          string `json:"downloadUrl"`
	FreeMaxChars         int    `json:"freeMaxChars"`
	FreeMaxExports       int    `json:"freeMaxExports"`
	FreeExportsRemaining int    `json:"freeExportsRemaining"`
	UpgradeURL           string `json:"upgradeUrl"`
}

// denialResponse is the 402 response body. OverBy is present only for
// length denials. Error carries the human-readable message clients surface
// directly.
type denialResponse struct {
	OK                   bool   `json:"ok"`
	Upgrade              bool   `json:"upgrade"`
	Reason               string `json:"reason"`
	Error                string `json:"error"`
	FreeMaxChars         int    `json:"freeMaxChars"`
	FreeMaxExports       int    `json:"freeMaxExports"`
	FreeExportsRemaining int    `json:"freeExportsRemaining"`
	OverBy               int    `json:"overBy,omitempty"`
	UpgradeURL           string `json:"upgradeUrl"`
}

func (s *Server) handleCreatePDF(w http.ResponseWriter, r *http.Request) {
	var req createPDFRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RawText) == "" {
		writeError(w, http.StatusBadRequest, "rawText is required")
		return
	}
	if req.Preset != "" && !document.Valid(req.Preset) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown preset %q", req.Preset))
		return
	}

	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		clientID = req.ClientID
	}

	res, err := s.exporter.Export(r.Context(), export.Request{
		RawText:  req.RawText,
		Preset:   req.Preset,
		ClientID: clientID,
	})
	if err != nil {
		if errors.Is(err, export.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, "rawText is required")
			return
		}
		s.logger.Error("export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate PDF")
		return
	}

	if res.Denial != nil {
		writeJSON(w, http.StatusPaymentRequired, s.denialBody(res.Denial))
		return
	}

	limits := s.exporter.Limits()
	writeJSON(w, http.StatusOK, receiptResponse{
		OK:                   true,
		ID:                   res.Receipt.ID,
		Preset:               res.Receipt.Preset,
		FileName:             res.Receipt.FileName,
		DownloadURL:          res.Receipt.DownloadURL,
		FreeMaxChars:         limits.MaxChars,
		FreeMaxExports:       limits.MaxExports,
		FreeExportsRemaining: res.Receipt.Remaining,
		UpgradeURL:           s.config.UpgradeURL,
	})
}

func (s *Server) denialBody(d *export.Denial) denialResponse {
	limits := s.exporter.Limits()
	return denialResponse{
		OK:                   false,
		Upgrade:              true,
		Reason:               string(d.Reason),
		Error:                denialMessage(d.Reason, limits),
		FreeMaxChars:         limits.MaxChars,
		FreeMaxExports:       limits.MaxExports,
		FreeExportsRemaining: d.Remaining,
		OverBy:               d.OverBy,
		UpgradeURL:           s.config.UpgradeURL,
	}
}

// denialMessage is the human-readable line shown next to the upgrade prompt.
func denialMessage(reason gate.Reason, limits gate.Limits) string {
	if reason == gate.ReasonLength {
		return fmt.Sprintf("Free exports support up to %d characters.", limits.MaxChars)
	}
	return fmt.Sprintf("Free tier includes %d exports per day.", limits.MaxExports)
}

// handleQuota reports the caller's remaining free exports without consuming
// anything.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		clientID = r.URL.Query().Get("clientId")
	}

	limits := s.exporter.Limits()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                   true,
		"freeMaxChars":         limits.MaxChars,
		"freeMaxExports":       limits.MaxExports,
		"freeExportsRemaining": s.exporter.Remaining(clientID),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	// Base strips any traversal left after ServeMux's own path cleaning.
	name := filepath.Base(r.PathValue("file"))
	if name == "." || name == "/" || !strings.HasSuffix(name, ".pdf") {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.config.OutDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// checkoutRequest is the checkout request body.
type checkoutRequest struct {
	Plan     string `json:"plan"`
	ClientID string `json:"clientId"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}

	var req checkoutRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		clientID = req.ClientID
	}

	url, err := s.billing.CreateCheckoutSession(r.Context(), billing.Plan(req.Plan), clientID)
	if err != nil {
		if errors.Is(err, billing.ErrMissingClientID) {
			writeError(w, http.StatusBadRequest, "clientId is required")
			return
		}
		s.logger.Error("checkout failed", "plan", req.Plan, "error", err)
		writeError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": url})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.config.Version})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// loggingMiddleware logs HTTP requests with structured fields.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for SSE streaming on the MCP endpoint.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
