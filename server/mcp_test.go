package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/arlden/pdf-exporter/export"
	"github.com/arlden/pdf-exporter/gate"
)

func callTool(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func toolJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()

	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &got))
	return got
}

func TestOpenEditorTool(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{limits: gate.Limits{MaxChars: 1500, MaxExports: 3}, remaining: 3}
	s := newTestServer(t, exp)

	res, err := s.handleOpenEditor(context.Background(), callTool(map[string]any{
		"seedText": "draft text",
		"preset":   "resume",
	}))
	require.NoError(t, err)

	got := toolJSON(t, res)
	require.Equal(t, true, got["ok"])
	require.Equal(t, "draft text", got["seedText"])
	require.Equal(t, "resume", got["preset"])
	require.Equal(t, "https://pdf.example.com/?preset=resume&text=draft+text", got["editorUrl"])
	require.Equal(t, float64(1500), got["freeMaxChars"])
	require.Equal(t, float64(3), got["freeExportsRemaining"])
	require.Equal(t, "https://pdf.example.com/upgrade", got["upgradeUrl"])
}

func TestOpenEditorToolDefaults(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeExporter{})
	res, err := s.handleOpenEditor(context.Background(), callTool(nil))
	require.NoError(t, err)

	got := toolJSON(t, res)
	require.Equal(t, "report", got["preset"])
	require.Equal(t, "", got["seedText"])
	require.Equal(t, "https://pdf.example.com/?preset=report", got["editorUrl"])
}

func TestCreatePDFToolSuccess(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{res: receipt()}
	s := newTestServer(t, exp)

	res, err := s.handleCreatePDFTool(context.Background(), callTool(map[string]any{
		"rawText":  "# Hi",
		"preset":   "notes",
		"clientId": "agent-1",
	}))
	require.NoError(t, err)

	got := toolJSON(t, res)
	require.Equal(t, true, got["ok"])
	require.Equal(t, "notes-abc123.pdf", got["fileName"])
	require.Equal(t, "https://pdf.example.com/downloads/notes-abc123.pdf", got["downloadUrl"])
	require.Equal(t, "agent-1", exp.lastReq.ClientID)
}

func TestCreatePDFToolDenialIsNotAnError(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{
		res:    &export.Result{Denial: &export.Denial{Reason: gate.ReasonQuota, Remaining: 0}},
		limits: gate.Limits{MaxChars: 1500, MaxExports: 3},
	}
	s := newTestServer(t, exp)

	res, err := s.handleCreatePDFTool(context.Background(), callTool(map[string]any{"rawText": "hi"}))
	require.NoError(t, err)

	got := toolJSON(t, res)
	require.Equal(t, false, got["ok"])
	require.Equal(t, true, got["upgrade"])
	require.Equal(t, "quota", got["reason"])
	require.Equal(t, "Free tier includes 3 exports per day.", got["error"])
	require.Equal(t, "https://pdf.example.com/upgrade", got["upgradeUrl"])
}

func TestCreatePDFToolValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeExporter{res: receipt()})

	res, err := s.handleCreatePDFTool(context.Background(), callTool(map[string]any{}))
	require.NoError(t, err)
	require.True(t, res.IsError)

	res, err = s.handleCreatePDFTool(context.Background(), callTool(map[string]any{
		"rawText": "hi",
		"preset":  "banana",
	}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestCreatePDFToolRenderFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeExporter{err: errors.New("browser crashed")})

	res, err := s.handleCreatePDFTool(context.Background(), callTool(map[string]any{"rawText": "hi"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}
