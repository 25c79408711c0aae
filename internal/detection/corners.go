package detection

import (
	"math"
	"sort"

	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// Options configures keypoint extraction.
type Options struct {
	// MaxCount caps the number of keypoints returned.
	MaxCount int

	// QualityLevel is the minimum accepted cornerness as a fraction of the
	// strongest response in the image, in (0, 1].
	QualityLevel float64

	// MinDistance is the minimum Euclidean distance in pixels between two
	// returned keypoints.
	MinDistance float64

	// BlockSize is the side of the window the structure tensor is summed over.
	BlockSize int

	// MinDetected fails detection when fewer keypoints are found. Zero
	// disables the check.
	MinDetected int
}

// DefaultOptions returns the options used when no tuning file is given.
func DefaultOptions() Options {
	return Options{
		MaxCount:     1000,
		QualityLevel: 0.01,
		MinDistance:  10,
		BlockSize:    3,
		MinDetected:  0,
	}
}

// Validate checks the options and reports a *tracks.ConfigError for the first
// invalid field.
func (o Options) Validate() error {
	switch {
	case o.MaxCount < 1:
		return tracks.NewConfigError("max_features", "must be >= 1, got %d", o.MaxCount)
	case o.QualityLevel <= 0 || o.QualityLevel > 1:
		return tracks.NewConfigError("quality_level", "must be in (0, 1], got %g", o.QualityLevel)
	case o.MinDistance < 0:
		return tracks.NewConfigError("min_distance", "must be >= 0, got %g", o.MinDistance)
	case o.BlockSize < 1:
		return tracks.NewConfigError("block_size", "must be >= 1, got %d", o.BlockSize)
	case o.MinDetected < 0:
		return tracks.NewConfigError("min_detected", "must be >= 0, got %d", o.MinDetected)
	}
	return nil
}

// Detector extracts keypoints from the reference frame.
type Detector interface {
	Detect(ref imaging.Frame) (tracks.KeypointSet, error)
}

// ShiTomasi is the pure-Go minimum-eigenvalue corner detector.
type ShiTomasi struct {
	opts Options
}

// NewShiTomasi validates opts and returns a detector.
func NewShiTomasi(opts Options) (*ShiTomasi, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &ShiTomasi{opts: opts}, nil
}

// Options returns the detector configuration.
func (d *ShiTomasi) Options() Options { return d.opts }

// Detect converts the frame to intensity and extracts keypoints.
func (d *ShiTomasi) Detect(ref imaging.Frame) (tracks.KeypointSet, error) {
	kps := GoodFeatures(imaging.IntensityPlane(ref.Image), d.opts)
	if err := checkMinDetected(kps, d.opts); err != nil {
		return nil, err
	}
	return kps, nil
}

func checkMinDetected(kps tracks.KeypointSet, opts Options) error {
	if opts.MinDetected > 0 && len(kps) < opts.MinDetected {
		return &tracks.InsufficientFeaturesError{
			Stage:    "detection",
			Found:    len(kps),
			Required: opts.MinDetected,
		}
	}
	return nil
}

type candidate struct {
	x, y     int
	strength float64
}

// GoodFeatures runs the Shi-Tomasi extractor on an intensity plane.
func GoodFeatures(p *imaging.Plane, opts Options) tracks.KeypointSet {
	response := MinEigenResponse(p, opts.BlockSize)

	maxResp := 0.0
	for _, v := range response.Pix {
		if v > maxResp {
			maxResp = v
		}
	}
	if maxResp <= 0 {
		return tracks.KeypointSet{}
	}
	threshold := opts.QualityLevel * maxResp

	// Skip a border where the window reaches replicated pixels.
	margin := opts.BlockSize/2 + 1
	var cands []candidate
	for y := margin; y < p.Height-margin; y++ {
		for x := margin; x < p.Width-margin; x++ {
			v := response.Pix[y*p.Width+x]
			if v < threshold || !isLocalMax(response, x, y, v) {
				continue
			}
			cands = append(cands, candidate{x: x, y: y, strength: v})
		}
	}

	// cands is already in row-major order; a stable sort keeps that order
	// for equal strengths.
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].strength > cands[j].strength
	})

	return suppress(cands, p.Width, p.Height, opts.MinDistance, opts.MaxCount)
}

// MinEigenResponse returns, per pixel, the smaller eigenvalue of the Sobel
// structure tensor summed over a blockSize x blockSize window.
func MinEigenResponse(p *imaging.Plane, blockSize int) *imaging.Plane {
	gx, gy := imaging.Sobel(p)
	w, h := p.Width, p.Height

	xx := imaging.NewPlane(w, h)
	xy := imaging.NewPlane(w, h)
	yy := imaging.NewPlane(w, h)
	for i := range gx.Pix {
		dx, dy := gx.Pix[i], gy.Pix[i]
		xx.Pix[i] = dx * dx
		xy.Pix[i] = dx * dy
		yy.Pix[i] = dy * dy
	}

	lo := -(blockSize - 1) / 2
	hi := blockSize / 2
	out := imaging.NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var a, b, c float64
			for ky := lo; ky <= hi; ky++ {
				for kx := lo; kx <= hi; kx++ {
					a += xx.At(x+kx, y+ky)
					b += xy.At(x+kx, y+ky)
					c += yy.At(x+kx, y+ky)
				}
			}
			out.Pix[y*w+x] = minEigen(a, b, c)
		}
	}
	return out
}

// minEigen returns the smaller eigenvalue of the symmetric matrix [a b; b c].
func minEigen(a, b, c float64) float64 {
	half := (a + c) / 2
	d := (a - c) / 2
	return half - math.Sqrt(d*d+b*b)
}

func isLocalMax(p *imaging.Plane, x, y int, v float64) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if (dx != 0 || dy != 0) && p.At(x+dx, y+dy) > v {
				return false
			}
		}
	}
	return true
}

// suppress greedily accepts candidates in order, rejecting any closer than
// minDist to an accepted point. Accepted points are bucketed in a grid of
// minDist-sized cells, at least one pixel wide, so each check only visits
// the cells within reach.
func suppress(cands []candidate, width, height int, minDist float64, maxCount int) tracks.KeypointSet {
	out := tracks.KeypointSet{}
	if minDist <= 0 {
		for _, c := range cands {
			if len(out) >= maxCount {
				break
			}
			out = append(out, tracks.Point{X: float64(c.x), Y: float64(c.y)})
		}
		return out
	}

	cell := math.Max(minDist, 1)
	reach := int(math.Ceil(minDist / cell))
	gw := int(math.Ceil(float64(width)/cell)) + 1
	gh := int(math.Ceil(float64(height)/cell)) + 1
	grid := make([][]tracks.Point, gw*gh)
	minDist2 := minDist * minDist

	for _, c := range cands {
		if len(out) >= maxCount {
			break
		}
		px, py := float64(c.x), float64(c.y)
		cx := int(px / cell)
		cy := int(py / cell)

		ok := true
		for yy := cy - reach; yy <= cy+reach && ok; yy++ {
			for xx := cx - reach; xx <= cx+reach && ok; xx++ {
				if xx < 0 || yy < 0 || xx >= gw || yy >= gh {
					continue
				}
				for _, q := range grid[yy*gw+xx] {
					dx, dy := q.X-px, q.Y-py
					if dx*dx+dy*dy < minDist2 {
						ok = false
						break
					}
				}
			}
		}
		if !ok {
			continue
		}

		pt := tracks.Point{X: px, Y: py}
		grid[cy*gw+cx] = append(grid[cy*gw+cx], pt)
		out = append(out, pt)
	}
	return out
}
