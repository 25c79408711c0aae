package tracking

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// FlowEstimator moves points from one frame into another.
//
// Flow returns one position and one success flag per input point, in input
// order. Implementations must be safe for concurrent use.
type FlowEstimator interface {
	Flow(from, to imaging.Frame, pts []tracks.Point) ([]tracks.Point, []bool, error)
}

// FlowOptions configures the Lucas-Kanade solver.
type FlowOptions struct {
	// WindowSize is the side of the square integration window, odd.
	WindowSize int

	// Levels is the number of pyramid levels above full resolution.
	Levels int

	// MaxIterations bounds the refinement loop at each level.
	MaxIterations int

	// Epsilon stops refinement once an update is shorter than this, in pixels.
	Epsilon float64

	// MinEigen rejects points whose normalised gradient matrix has a smaller
	// minimum eigenvalue; such windows are too flat to track.
	MinEigen float64
}

// DefaultFlowOptions mirrors the usual calcOpticalFlowPyrLK settings.
func DefaultFlowOptions() FlowOptions {
	return FlowOptions{
		WindowSize:    21,
		Levels:        3,
		MaxIterations: 30,
		Epsilon:       0.01,
		MinEigen:      1e-4,
	}
}

// Validate reports a *tracks.ConfigError for the first invalid field.
func (o FlowOptions) Validate() error {
	switch {
	case o.WindowSize < 3 || o.WindowSize%2 == 0:
		return tracks.NewConfigError("flow_window", "must be an odd number >= 3, got %d", o.WindowSize)
	case o.Levels < 0:
		return tracks.NewConfigError("flow_levels", "must be >= 0, got %d", o.Levels)
	case o.MaxIterations < 1:
		return tracks.NewConfigError("flow_max_iterations", "must be >= 1, got %d", o.MaxIterations)
	case o.Epsilon <= 0:
		return tracks.NewConfigError("flow_epsilon", "must be > 0, got %g", o.Epsilon)
	case o.MinEigen < 0:
		return tracks.NewConfigError("flow_min_eigen", "must be >= 0, got %g", o.MinEigen)
	}
	return nil
}

type pyramidEntry struct {
	once sync.Once
	pyr  *imaging.Pyramid
}

// LucasKanade is a pyramidal Lucas-Kanade FlowEstimator.
//
// Pyramids are built lazily, once per frame identity, and kept for the life
// of the estimator, so the reference pyramid is shared by every forward and
// backward pass of a run.
type LucasKanade struct {
	opts FlowOptions

	mu       sync.Mutex
	pyramids map[string]*pyramidEntry
}

// NewLucasKanade validates opts and returns an estimator.
func NewLucasKanade(opts FlowOptions) (*LucasKanade, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &LucasKanade{opts: opts, pyramids: make(map[string]*pyramidEntry)}, nil
}

func (lk *LucasKanade) pyramid(f imaging.Frame) *imaging.Pyramid {
	lk.mu.Lock()
	e, ok := lk.pyramids[f.ID]
	if !ok {
		e = &pyramidEntry{}
		lk.pyramids[f.ID] = e
	}
	lk.mu.Unlock()

	e.once.Do(func() {
		e.pyr = imaging.BuildPyramid(imaging.IntensityPlane(f.Image), lk.opts.Levels, lk.opts.WindowSize)
	})
	return e.pyr
}

// Flow tracks pts from frame from into frame to.
func (lk *LucasKanade) Flow(from, to imaging.Frame, pts []tracks.Point) ([]tracks.Point, []bool, error) {
	src := lk.pyramid(from)
	dst := lk.pyramid(to)

	levels := len(src.Levels)
	if len(dst.Levels) < levels {
		levels = len(dst.Levels)
	}

	next := make([]tracks.Point, len(pts))
	status := make([]bool, len(pts))
	s := newSolver(lk.opts)
	for i, p := range pts {
		next[i], status[i] = s.track(src, dst, levels, p)
	}
	return next, status, nil
}

// solver holds per-goroutine scratch buffers.
type solver struct {
	opts  FlowOptions
	half  int
	tmplI []float64
	tmplX []float64
	tmplY []float64
	b     *mat.VecDense
	eta   *mat.VecDense
}

func newSolver(opts FlowOptions) *solver {
	n := opts.WindowSize * opts.WindowSize
	return &solver{
		opts:  opts,
		half:  opts.WindowSize / 2,
		tmplI: make([]float64, n),
		tmplX: make([]float64, n),
		tmplY: make([]float64, n),
		b:     mat.NewVecDense(2, nil),
		eta:   mat.NewVecDense(2, nil),
	}
}

// track refines the displacement of p coarse to fine. The returned point is
// the forward prediction even when status is false, as long as one was made.
func (s *solver) track(src, dst *imaging.Pyramid, levels int, p tracks.Point) (tracks.Point, bool) {
	var gx, gy float64
	area := float64(s.opts.WindowSize * s.opts.WindowSize)

	for l := levels - 1; l >= 0; l-- {
		from := src.Levels[l]
		to := dst.Levels[l].Image
		scale := 1 / math.Pow(2, float64(l))
		px, py := p.X*scale, p.Y*scale

		var gxx, gxy, gyy float64
		k := 0
		for wy := -s.half; wy <= s.half; wy++ {
			for wx := -s.half; wx <= s.half; wx++ {
				x := px + float64(wx)
				y := py + float64(wy)
				ix := from.DX.Bilinear(x, y)
				iy := from.DY.Bilinear(x, y)
				s.tmplI[k] = from.Image.Bilinear(x, y)
				s.tmplX[k] = ix
				s.tmplY[k] = iy
				gxx += ix * ix
				gxy += ix * iy
				gyy += iy * iy
				k++
			}
		}

		half := (gxx + gyy) / 2
		d := (gxx - gyy) / 2
		if (half-math.Sqrt(d*d+gxy*gxy))/area < s.opts.MinEigen {
			return tracks.Point{X: p.X + gx*math.Pow(2, float64(l)), Y: p.Y + gy*math.Pow(2, float64(l))}, false
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(mat.NewSymDense(2, []float64{gxx, gxy, gxy, gyy})); !ok {
			return tracks.Point{X: p.X + gx*math.Pow(2, float64(l)), Y: p.Y + gy*math.Pow(2, float64(l))}, false
		}

		var vx, vy float64
		for it := 0; it < s.opts.MaxIterations; it++ {
			cx := px + gx + vx
			cy := py + gy + vy
			if !to.Contains(cx, cy) {
				return tracks.Point{X: cx / scale, Y: cy / scale}, false
			}

			var bx, by float64
			k = 0
			for wy := -s.half; wy <= s.half; wy++ {
				for wx := -s.half; wx <= s.half; wx++ {
					diff := s.tmplI[k] - to.Bilinear(cx+float64(wx), cy+float64(wy))
					bx += diff * s.tmplX[k]
					by += diff * s.tmplY[k]
					k++
				}
			}

			s.b.SetVec(0, bx)
			s.b.SetVec(1, by)
			if err := chol.SolveVecTo(s.eta, s.b); err != nil {
				return tracks.Point{X: cx / scale, Y: cy / scale}, false
			}
			ex, ey := s.eta.AtVec(0), s.eta.AtVec(1)
			vx += ex
			vy += ey
			if ex*ex+ey*ey < s.opts.Epsilon*s.opts.Epsilon {
				break
			}
		}

		if l > 0 {
			gx = 2 * (gx + vx)
			gy = 2 * (gy + vy)
		} else {
			gx += vx
			gy += vy
		}
	}

	out := tracks.Point{X: p.X + gx, Y: p.Y + gy}
	if levels == 0 || math.IsNaN(out.X) || math.IsNaN(out.Y) {
		return out, false
	}
	return out, dst.Levels[0].Image.Contains(out.X, out.Y)
}
