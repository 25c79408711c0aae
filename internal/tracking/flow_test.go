package tracking

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/ironsheep/nrsfm-tracks/internal/detection"
	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// texture is a smooth, non-periodic-looking intensity field.
func texture(x, y float64) float64 {
	return 128 +
		45*math.Sin(x/4.0)*math.Cos(y/5.0) +
		30*math.Sin((x+2*y)/9.0) +
		20*math.Cos((3*x-y)/13.0)
}

// shiftedFrame renders texture translated by (dx, dy), so a feature at p in
// the unshifted frame appears at p + (dx, dy).
func shiftedFrame(id string, size int, dx, dy float64) imaging.Frame {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := texture(float64(x)-dx, float64(y)-dy)
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(math.Max(0, math.Min(255, v))))})
		}
	}
	return imaging.NewFrame(id, img)
}

func TestLucasKanade_Translation(t *testing.T) {
	const size = 96
	ref := shiftedFrame("ref", size, 0, 0)
	moved := shiftedFrame("moved", size, 2, 1)

	lk, err := NewLucasKanade(DefaultFlowOptions())
	if err != nil {
		t.Fatalf("NewLucasKanade failed: %v", err)
	}

	var pts []tracks.Point
	for y := 24.0; y <= 72; y += 12 {
		for x := 24.0; x <= 72; x += 12 {
			pts = append(pts, tracks.Point{X: x, Y: y})
		}
	}

	next, status, err := lk.Flow(ref, moved, pts)
	if err != nil {
		t.Fatalf("Flow failed: %v", err)
	}

	ok := 0
	for i, p := range pts {
		if !status[i] {
			continue
		}
		ok++
		if d := math.Hypot(next[i].X-(p.X+2), next[i].Y-(p.Y+1)); d > 0.3 {
			t.Errorf("point %v tracked to %v, %.3f px from the truth", p, next[i], d)
		}
	}
	if ok < len(pts)*3/4 {
		t.Errorf("only %d of %d points tracked", ok, len(pts))
	}
}

func TestLucasKanade_IdentityIsExact(t *testing.T) {
	ref := shiftedFrame("ref", 64, 0, 0)
	lk, err := NewLucasKanade(DefaultFlowOptions())
	if err != nil {
		t.Fatal(err)
	}

	pts := []tracks.Point{{X: 30, Y: 30}, {X: 20.5, Y: 40.25}}
	next, status, err := lk.Flow(ref, ref, pts)
	if err != nil {
		t.Fatal(err)
	}
	for i := range pts {
		if !status[i] {
			t.Errorf("point %d failed on identical frames", i)
			continue
		}
		if d := math.Hypot(next[i].X-pts[i].X, next[i].Y-pts[i].Y); d > 1e-6 {
			t.Errorf("point %d drifted by %g", i, d)
		}
	}
}

func TestLucasKanade_FlatRegionFails(t *testing.T) {
	flat := imaging.NewFrame("flat", image.NewGray(image.Rect(0, 0, 64, 64)))
	other := imaging.NewFrame("other", image.NewGray(image.Rect(0, 0, 64, 64)))

	lk, err := NewLucasKanade(DefaultFlowOptions())
	if err != nil {
		t.Fatal(err)
	}
	_, status, err := lk.Flow(flat, other, []tracks.Point{{X: 32, Y: 32}})
	if err != nil {
		t.Fatal(err)
	}
	if status[0] {
		t.Error("a textureless window should not be trackable")
	}
}

func TestLucasKanade_SharesPyramids(t *testing.T) {
	ref := shiftedFrame("ref", 48, 0, 0)
	lk, err := NewLucasKanade(DefaultFlowOptions())
	if err != nil {
		t.Fatal(err)
	}
	a := lk.pyramid(ref)
	b := lk.pyramid(ref)
	if a != b {
		t.Error("pyramid should be built once per frame identity")
	}
}

func TestFlowOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FlowOptions)
	}{
		{"even window", func(o *FlowOptions) { o.WindowSize = 20 }},
		{"tiny window", func(o *FlowOptions) { o.WindowSize = 1 }},
		{"negative levels", func(o *FlowOptions) { o.Levels = -1 }},
		{"zero iterations", func(o *FlowOptions) { o.MaxIterations = 0 }},
		{"zero epsilon", func(o *FlowOptions) { o.Epsilon = 0 }},
		{"negative eigen", func(o *FlowOptions) { o.MinEigen = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultFlowOptions()
			tt.mutate(&o)
			_, err := NewLucasKanade(o)
			var cfgErr *tracks.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestTracker_WithDetectorAndLucasKanade(t *testing.T) {
	const size = 120
	frames := []imaging.Frame{
		shiftedFrame("a", size, 0, 0),
		shiftedFrame("b", size, 1, 0.5),
		shiftedFrame("c", size, 2, 1),
	}
	seq, err := imaging.NewSequence(frames)
	if err != nil {
		t.Fatal(err)
	}

	det, err := detection.NewShiTomasi(detection.Options{MaxCount: 60, QualityLevel: 0.05, MinDistance: 8, BlockSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	kps, err := det.Detect(seq.Reference())
	if err != nil {
		t.Fatal(err)
	}
	if len(kps) < 10 {
		t.Fatalf("detector found only %d keypoints", len(kps))
	}

	lk, err := NewLucasKanade(DefaultFlowOptions())
	if err != nil {
		t.Fatal(err)
	}
	tr, err := New(lk, Options{ErrorThreshold: 0.5, MinMatched: 5}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, matched, err := tr.Track(context.Background(), seq, kps)
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	for c := 0; c < matched.NumTracks(); c++ {
		p0 := matched.Points[0][c]
		if p0.X < 20 || p0.Y < 20 || p0.X > size-20 || p0.Y > size-20 {
			continue
		}
		p2 := matched.Points[2][c]
		if d := math.Hypot(p2.X-p0.X-2, p2.Y-p0.Y-1); d > 0.3 {
			t.Errorf("track %d displacement off by %.3f px", c, d)
		}
	}
}
