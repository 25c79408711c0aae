// Package detection finds trackable keypoints on the reference frame.
//
// The default detector is a Shi-Tomasi "good features to track" extractor:
//
//  1. Intensity conversion: the frame is reduced to a luminance plane
//  2. Gradients: 3x3 Sobel responses in X and Y
//  3. Cornerness: the smaller eigenvalue of the gradient structure tensor
//     summed over a BlockSize window
//  4. Filtering: only 3x3 local maxima whose cornerness is at least
//     QualityLevel times the strongest response are kept
//  5. Spacing: candidates are accepted greedily in descending strength,
//     rejecting any closer than MinDistance to an accepted point, until
//     MaxCount points are kept
//
// Ties in strength are broken by row-major position, so detection is
// deterministic for a given image and options.
//
// Building with the gocv tag adds GocvDetector, which delegates to OpenCV's
// goodFeaturesToTrack with the same options and registers it as the "gocv"
// backend for NewBackend.
package detection
