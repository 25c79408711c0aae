// Package imaging provides the image side of the track pipeline: decoding and
// caching frames, building float intensity planes and pyramids for the
// detector and tracker, and rendering keypoint previews.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - Integer coordinates address pixel centres; fractional coordinates are
//     resolved by bilinear interpolation in Plane.Bilinear
//
// # Frames and Sequences
//
// A Frame is a decoded image plus its identity, the source file name without
// extension. Identities key the on-disk checkpoints, so they must be unique
// within a Sequence. A Sequence holds at least two frames of identical size;
// the first one is the reference frame.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. Frames, Sequences and Planes
// are never mutated after construction and can be shared between goroutines.
//
// # Error Handling
//
// Loading failures are reported as *tracks.IOError, inconsistent frame sizes
// as *tracks.SizeMismatchError and unusable sequences as *tracks.ConfigError.
package imaging
