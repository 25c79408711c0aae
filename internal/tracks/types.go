package tracks

import "fmt"

// Point is a sub-pixel image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// String formats the point with two decimals, for logs.
func (p Point) String() string {
	return fmt.Sprintf("(%.2f,%.2f)", p.X, p.Y)
}

// KeypointSet is the ordered list of keypoints detected on the reference frame.
// The index of a keypoint is its track id for the rest of the pipeline.
type KeypointSet []Point

// Clone returns an independent copy of the set.
func (k KeypointSet) Clone() KeypointSet {
	if k == nil {
		return nil
	}
	out := make(KeypointSet, len(k))
	copy(out, k)
	return out
}

// FrameTrackTable holds the raw tracking result for every frame.
//
// Points[i][j] is the position of keypoint j in frame i and Valid[i][j]
// reports whether that position passed the forward-backward check. Row 0 is
// the reference frame; it equals the KeypointSet and is always fully valid.
// Invalid entries still carry the forward-predicted coordinate.
type FrameTrackTable struct {
	// Frames lists frame identities in sequence order, one per row.
	Frames []string `json:"frames"`

	// Points holds one row of keypoint positions per frame.
	Points [][]Point `json:"points"`

	// Valid is the per-(frame, keypoint) consistency mask, parallel to Points.
	Valid [][]bool `json:"valid"`
}

// NumFrames returns the number of rows in the table.
func (t *FrameTrackTable) NumFrames() int {
	return len(t.Points)
}

// NumKeypoints returns the number of columns in the table.
func (t *FrameTrackTable) NumKeypoints() int {
	if len(t.Points) == 0 {
		return 0
	}
	return len(t.Points[0])
}

// ValidCount returns how many keypoints are valid in the given row.
func (t *FrameTrackTable) ValidCount(frame int) int {
	n := 0
	for _, ok := range t.Valid[frame] {
		if ok {
			n++
		}
	}
	return n
}

// GloballyValid reports, for every keypoint, whether it is valid in all rows.
func (t *FrameTrackTable) GloballyValid() []bool {
	k := t.NumKeypoints()
	out := make([]bool, k)
	for j := 0; j < k; j++ {
		out[j] = true
		for i := range t.Valid {
			if !t.Valid[i][j] {
				out[j] = false
				break
			}
		}
	}
	return out
}

// MatchedTrackTable holds the tracks that are consistent in every frame.
//
// Points[i][c] is the position of matched track c in frame i. Index[c] is the
// keypoint index the column was selected from; columns keep the original
// keypoint order.
type MatchedTrackTable struct {
	Frames []string  `json:"frames"`
	Points [][]Point `json:"points"`
	Index  []int     `json:"index,omitempty"`
}

// NumFrames returns the number of rows in the table.
func (t *MatchedTrackTable) NumFrames() int {
	return len(t.Points)
}

// NumTracks returns the number of matched columns.
func (t *MatchedTrackTable) NumTracks() int {
	if len(t.Points) == 0 {
		return 0
	}
	return len(t.Points[0])
}

// Row returns the positions recorded for the frame with the given identity.
func (t *MatchedTrackTable) Row(identity string) ([]Point, bool) {
	for i, id := range t.Frames {
		if id == identity {
			return t.Points[i], true
		}
	}
	return nil, false
}

// Track returns the positions of matched column c across all frames.
func (t *MatchedTrackTable) Track(c int) []Point {
	out := make([]Point, len(t.Points))
	for i := range t.Points {
		out[i] = t.Points[i][c]
	}
	return out
}
