// Package workspace resolves the on-disk layout of a tracking run.
//
// A workspace is a directory holding an images/ folder with the input frames,
// plus the features/ and matches/ checkpoint folders written by the pipeline.
// Frames can also be extracted from a video with ffmpeg.
package workspace
