//go:build gocv

package tracking

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

func init() {
	RegisterFlow("gocv", func(opts FlowOptions) (FlowEstimator, error) {
		f, err := NewGocvFlow(opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	})
}

// GocvFlow is a FlowEstimator backed by OpenCV's calcOpticalFlowPyrLK.
type GocvFlow struct {
	opts FlowOptions
}

// NewGocvFlow validates opts and returns an OpenCV-backed estimator.
func NewGocvFlow(opts FlowOptions) (*GocvFlow, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &GocvFlow{opts: opts}, nil
}

// Flow tracks pts from frame from into frame to.
func (g *GocvFlow) Flow(from, to imaging.Frame, pts []tracks.Point) ([]tracks.Point, []bool, error) {
	prev, err := gocv.ImageGrayToMatGray(imaging.GrayImage(from.Image))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert frame %q: %w", from.ID, err)
	}
	defer prev.Close()

	next, err := gocv.ImageGrayToMatGray(imaging.GrayImage(to.Image))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert frame %q: %w", to.ID, err)
	}
	defer next.Close()

	prevPts := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	defer prevPts.Close()
	for i, p := range pts {
		prevPts.SetFloatAt(i, 0, float32(p.X))
		prevPts.SetFloatAt(i, 1, float32(p.Y))
	}

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	win := image.Pt(g.opts.WindowSize, g.opts.WindowSize)
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, g.opts.MaxIterations, g.opts.Epsilon)
	gocv.CalcOpticalFlowPyrLKWithParams(prev, next, prevPts, nextPts, &status, &errMat,
		win, g.opts.Levels, criteria, 0, g.opts.MinEigen)

	out := make([]tracks.Point, len(pts))
	ok := make([]bool, len(pts))
	for i := range pts {
		v := nextPts.GetVecfAt(i, 0)
		out[i] = tracks.Point{X: float64(v[0]), Y: float64(v[1])}
		ok[i] = status.GetUCharAt(i, 0) == 1
	}
	return out, ok, nil
}
