package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	workspace := map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the workspace directory; frames are read from its images/ folder",
	}
	config := map[string]interface{}{
		"type":        "string",
		"description": "Optional path to a JSON tuning file",
	}

	return []Tool{
		{
			Name:        "tracks_run",
			Description: "Detect keypoints on the first frame of a workspace, track them through every frame with a forward-backward consistency check, and checkpoint both stages. Valid checkpoints from earlier runs are reloaded instead of recomputed. Returns the keypoint and matched track counts and how each stage was resolved.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"workspace": workspace,
					"video": map[string]interface{}{
						"type":        "string",
						"description": "Optional video file; its first frames are extracted into images/ with ffmpeg",
					},
					"config": config,
					"redo_detection": map[string]interface{}{
						"type":        "boolean",
						"description": "Recompute detection even if checkpoints are valid. Also recomputes matching.",
						"default":     false,
					},
					"redo_matching": map[string]interface{}{
						"type":        "boolean",
						"description": "Recompute matching even if checkpoints are valid",
						"default":     false,
					},
					"preview": map[string]interface{}{
						"type":        "boolean",
						"description": "Write preview.png with detected and matched keypoints into the workspace",
						"default":     false,
					},
				},
				"required": []string{"workspace"},
			},
		},
		{
			Name:        "tracks_checkpoint",
			Description: "Read the stored coordinates of one frame for the detection or matching stage.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"workspace": workspace,
					"stage": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"detection", "matching"},
						"description": "Checkpoint stage. Default matching",
						"default":     "matching",
					},
					"frame": map[string]interface{}{
						"type":        "string",
						"description": "Frame identity: the image file name without extension",
					},
				},
				"required": []string{"workspace", "frame"},
			},
		},
		{
			Name:        "tracks_preview",
			Description: "Render the first frame with all detected keypoints and the matched subset drawn on it, from stored checkpoints. Returns a base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"workspace": workspace,
					"config":    config,
				},
				"required": []string{"workspace"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
