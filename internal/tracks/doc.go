// Package tracks defines the value types shared by every stage of the track
// pipeline and the error taxonomy the stages report.
//
// # Coordinates
//
// Points are sub-pixel float64 positions in the image coordinate system used
// throughout the module: (0,0) is the centre of the top-left pixel, X grows
// rightward and Y grows downward.
//
// # Tables
//
// A FrameTrackTable has one row per frame of the sequence and one column per
// reference keypoint. Column j of every row describes the same keypoint, so a
// column read top to bottom is a track. A MatchedTrackTable keeps only the
// columns that passed the consistency filter in every frame and renumbers them
// from zero, remembering the original keypoint index of each column.
//
// Tables are built once by the stage that owns them and are never patched in
// place; recomputation replaces the whole value.
//
// # Errors
//
// Stage failures are reported with the concrete types in errors.go. Callers
// classify them with errors.As:
//
//	var insufficient *tracks.InsufficientFeaturesError
//	if errors.As(err, &insufficient) {
//	    log.Printf("only %d tracks survived", insufficient.Found)
//	}
package tracks
