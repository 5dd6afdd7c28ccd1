package engine

import "errors"

// Sentinel errors tag the pipeline stage a render failed in.
var (
	ErrEngineStart   = errors.New("failed to start render engine")
	ErrEngineGone    = errors.New("render engine disconnected")
	ErrContextCreate = errors.New("failed to create isolated browser context")
	ErrPageCreate    = errors.New("failed to create browser page")
	ErrContentLoad   = errors.New("failed to load document content")
	ErrExportPDF     = errors.New("PDF export failed")
	ErrWritePDF      = errors.New("failed to write PDF file")
)
