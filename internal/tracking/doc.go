// Package tracking follows reference keypoints through a frame sequence and
// keeps only the tracks that survive a forward-backward consistency check.
//
// For every non-reference frame the Tracker asks a FlowEstimator to move the
// reference keypoints into the frame (forward) and to move the results back
// into the reference frame (backward). A keypoint is valid for that frame
// when both steps succeed and the round trip lands within ErrorThreshold
// pixels of where it started. Frames are processed concurrently; each
// goroutine owns one row of the FrameTrackTable.
//
// After all frames finish, keypoints valid in every frame form the
// MatchedTrackTable. Fewer than MinMatched such keypoints is a
// *tracks.InsufficientFeaturesError.
//
// LucasKanade is the default FlowEstimator: a pure-Go pyramidal
// Lucas-Kanade solver in the formulation of Bouguet. Building with the gocv
// tag adds GocvFlow, which calls OpenCV's calcOpticalFlowPyrLK and is
// selected with NewFlowBackend("gocv", ...).
package tracking
