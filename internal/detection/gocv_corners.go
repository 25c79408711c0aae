//go:build gocv

package detection

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

func init() {
	Register(BackendGocv, func(opts Options) (Detector, error) {
		d, err := NewGocvDetector(opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// GocvDetector extracts keypoints with OpenCV's goodFeaturesToTrack.
type GocvDetector struct {
	opts Options
}

// NewGocvDetector validates opts and returns an OpenCV-backed detector.
func NewGocvDetector(opts Options) (*GocvDetector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &GocvDetector{opts: opts}, nil
}

// Detect runs goodFeaturesToTrack on the grayscale reference frame.
func (d *GocvDetector) Detect(ref imaging.Frame) (tracks.KeypointSet, error) {
	gray, err := gocv.ImageGrayToMatGray(imaging.GrayImage(ref.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame %q: %w", ref.ID, err)
	}
	defer gray.Close()

	corners := gocv.NewMat()
	defer corners.Close()

	gocv.GoodFeaturesToTrack(gray, &corners, d.opts.MaxCount, d.opts.QualityLevel, d.opts.MinDistance)

	kps := make(tracks.KeypointSet, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		kps = append(kps, tracks.Point{X: float64(v[0]), Y: float64(v[1])})
	}

	if err := checkMinDetected(kps, d.opts); err != nil {
		return nil, err
	}
	return kps, nil
}
