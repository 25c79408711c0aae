// Package job wires a workspace on disk to a pipeline run.
//
// It is the shared entry point of the command line tool and the MCP server:
// it loads the tuning file, lists or extracts the frames, runs the pipeline
// and renders the preview image.
package job
