// Package server implements the MCP (Model Context Protocol) server for the
// track pipeline.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - tracks_run: Run detection and matching on a workspace
//   - tracks_checkpoint: Read one frame's stored coordinates
//   - tracks_preview: Render the keypoint preview as base64 PNG
//
// # Image Caching
//
// Decoded frames are cached by path for the lifetime of the server, so
// repeated runs over the same workspace skip decoding.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with
// code -32000. The data field carries the error text and the exit code the
// command line tool would use for the same failure.
//
// Logs go to the logger given to New; stdout is reserved for protocol
// traffic.
package server
