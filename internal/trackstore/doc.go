// Package trackstore reads and writes per-frame keypoint checkpoints.
//
// A checkpoint set is a directory with one file per frame identity, named
// <identity>.csv. Each file holds exactly two comma-separated rows of decimal
// numbers: every x coordinate, then every y coordinate, in keypoint order.
// All files of a set have the same number of columns.
//
// Writes replace a whole set at once: new files go to a staging directory
// that is swapped in only after every file is complete.
package trackstore
