package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/arlden/pdf-exporter/document"
	"github.com/arlden/pdf-exporter/export"
)

// registerMCP mounts the MCP endpoint: an SSE transport exposing the
// open_editor and create_pdf tools. Both tools route through the same export
// pipeline as the REST API, so policy and quota behave identically.
func (s *Server) registerMCP(mux *http.ServeMux) {
	srv := mcpserver.NewMCPServer(
		"pdf-exporter",
		s.config.Version,
		mcpserver.WithToolCapabilities(false),
	)

	srv.AddTool(mcp.NewTool(
		"open_editor",
		mcp.WithDescription("Return a link to the PDF editor, optionally pre-filled with text and a style preset. Does not consume quota."),
		mcp.WithString("seedText",
			mcp.Description("Text to pre-fill the editor with"),
		),
		mcp.WithString("preset",
			mcp.Description("Style preset: report, notes, or resume"),
		),
		mcp.WithString("clientId",
			mcp.Description("Client identifier for the quota snapshot"),
		),
	), s.handleOpenEditor)

	srv.AddTool(mcp.NewTool(
		"create_pdf",
		mcp.WithDescription("Convert text to a styled PDF and return a download link. Free tier: limited length and daily exports."),
		mcp.WithString("rawText",
			mcp.Required(),
			mcp.Description("The text content to convert, markdown supported"),
		),
		mcp.WithString("preset",
			mcp.Description("Style preset: report, notes, or resume (default report)"),
		),
		mcp.WithString("clientId",
			mcp.Description("Client identifier used for quota accounting"),
		),
	), s.handleCreatePDFTool)

	sse := mcpserver.NewSSEServer(srv,
		mcpserver.WithBaseURL(s.config.BaseURL),
		mcpserver.WithSSEEndpoint("/mcp/sse"),
		mcpserver.WithMessageEndpoint("/mcp/message"),
	)

	mux.Handle("/mcp/sse", sse.SSEHandler())
	mux.Handle("/mcp/message", sse.MessageHandler())
}

// handleOpenEditor builds an editor link seeded with the given text and
// preset, plus a quota snapshot. It has no side effects.
func (s *Server) handleOpenEditor(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	preset := document.Normalize(stringArg(args, "preset"))
	seedText := stringArg(args, "seedText")

	q := url.Values{}
	q.Set("preset", preset)
	if seedText != "" {
		q.Set("text", seedText)
	}

	limits := s.exporter.Limits()
	return toolResultJSON(map[string]any{
		"ok":                   true,
		"editorUrl":            strings.TrimSuffix(s.config.BaseURL, "/") + "/?" + q.Encode(),
		"seedText":             seedText,
		"preset":               preset,
		"freeMaxChars":         limits.MaxChars,
		"freeMaxExports":       limits.MaxExports,
		"freeExportsRemaining": s.exporter.Remaining(stringArg(args, "clientId")),
		"upgradeUrl":           s.absoluteURL(s.config.UpgradeURL),
	})
}

// handleCreatePDFTool runs one export. Policy denials come back as a normal
// tool result carrying upgrade details, so agents can relay the prompt
// instead of treating the call as failed.
func (s *Server) handleCreatePDFTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	rawText := stringArg(args, "rawText")
	if rawText == "" {
		return mcp.NewToolResultError("rawText is required"), nil
	}
	preset := stringArg(args, "preset")
	if preset != "" && !document.Valid(preset) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown preset %q", preset)), nil
	}

	res, err := s.exporter.Export(ctx, export.Request{
		RawText:  rawText,
		Preset:   preset,
		ClientID: stringArg(args, "clientId"),
	})
	if err != nil {
		s.logger.Error("mcp export failed", "error", err)
		return mcp.NewToolResultError("failed to generate PDF"), nil
	}

	if res.Denial != nil {
		d := s.denialBody(res.Denial)
		return toolResultJSON(map[string]any{
			"ok":                   false,
			"upgrade":              true,
			"reason":               d.Reason,
			"error":                d.Error,
			"freeMaxChars":         d.FreeMaxChars,
			"freeMaxExports":       d.FreeMaxExports,
			"freeExportsRemaining": d.FreeExportsRemaining,
			"overBy":               d.OverBy,
			"upgradeUrl":           s.absoluteURL(d.UpgradeURL),
		})
	}

	limits := s.exporter.Limits()
	return toolResultJSON(map[string]any{
		"ok":                   true,
		"id":                   res.Receipt.ID,
		"preset":               res.Receipt.Preset,
		"fileName":             res.Receipt.FileName,
		"downloadUrl":          res.Receipt.DownloadURL,
		"freeMaxChars":         limits.MaxChars,
		"freeMaxExports":       limits.MaxExports,
		"freeExportsRemaining": res.Receipt.Remaining,
		"upgradeUrl":           s.absoluteURL(s.config.UpgradeURL),
	})
}

// absoluteURL resolves a possibly-relative path against the public origin.
// MCP clients have no request origin to resolve against, unlike browsers.
func (s *Server) absoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(s.config.BaseURL, "/") + path
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func toolResultJSON(data any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
