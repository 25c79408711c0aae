package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ironsheep/nrsfm-tracks/internal/job"
	"github.com/ironsheep/nrsfm-tracks/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "tracks_run").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// ToolError is the data attached to a failed tool call. ExitCode is the
// status the command line tool would exit with for the same error.
type ToolError struct {
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Warn("tool failed", "tool", params.Name, "err", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", ToolError{
			Error:    err.Error(),
			ExitCode: job.ExitCode(err),
		})
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "tracks_run":
		return s.handleTracksRun(ctx, args)
	case "tracks_checkpoint":
		return s.handleTracksCheckpoint(args)
	case "tracks_preview":
		return s.handleTracksPreview(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

type tracksRunArgs struct {
	Workspace     string `json:"workspace"`
	Video         string `json:"video"`
	Config        string `json:"config"`
	RedoDetection bool   `json:"redo_detection"`
	RedoMatching  bool   `json:"redo_matching"`
	Preview       bool   `json:"preview"`
}

func (s *Server) handleTracksRun(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a tracksRunArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	req := job.Request{
		Workspace:  a.Workspace,
		Video:      a.Video,
		ConfigPath: a.Config,
		Overrides: pipeline.Overrides{
			RedoDetection: a.RedoDetection,
			RedoMatching:  a.RedoMatching,
		},
		Preview: a.Preview,
	}
	return job.Execute(ctx, req, s.cache, s.logger)
}

type tracksCheckpointArgs struct {
	Workspace string `json:"workspace"`
	Stage     string `json:"stage"`
	Frame     string `json:"frame"`
}

func (s *Server) handleTracksCheckpoint(args json.RawMessage) (interface{}, error) {
	var a tracksCheckpointArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Stage == "" {
		a.Stage = pipeline.StageMatching
	}
	return job.ReadCheckpoint(a.Workspace, a.Stage, a.Frame)
}

type tracksPreviewArgs struct {
	Workspace string `json:"workspace"`
	Config    string `json:"config"`
}

func (s *Server) handleTracksPreview(args json.RawMessage) (interface{}, error) {
	var a tracksPreviewArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	cfg, err := job.LoadConfig(a.Config)
	if err != nil {
		return nil, err
	}
	return job.RenderFromCheckpoints(a.Workspace, cfg, s.cache)
}
