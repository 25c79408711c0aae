package tracking

import (
	"context"
	"io"
	"log/slog"
	"math"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// Options configures the consistency filter.
type Options struct {
	// ErrorThreshold is the largest accepted round-trip error in pixels.
	ErrorThreshold float64

	// MinMatched is the smallest acceptable number of globally matched tracks.
	MinMatched int

	// Workers bounds the number of frames processed concurrently; zero means
	// GOMAXPROCS.
	Workers int
}

// DefaultOptions returns a 0.1 pixel round-trip threshold and a minimum of
// ten matched tracks.
func DefaultOptions() Options {
	return Options{ErrorThreshold: 0.1, MinMatched: 10}
}

// Validate reports a *tracks.ConfigError for the first invalid field.
func (o Options) Validate() error {
	switch {
	case o.ErrorThreshold < 0 || math.IsNaN(o.ErrorThreshold):
		return tracks.NewConfigError("error_threshold", "must be >= 0, got %g", o.ErrorThreshold)
	case o.MinMatched < 1:
		return tracks.NewConfigError("min_matched", "must be >= 1, got %d", o.MinMatched)
	case o.Workers < 0:
		return tracks.NewConfigError("workers", "must be >= 0, got %d", o.Workers)
	}
	return nil
}

// Tracker runs the forward-backward consistency filter.
type Tracker struct {
	flow   FlowEstimator
	opts   Options
	logger *slog.Logger
}

// New returns a Tracker. A nil logger discards output.
func New(flow FlowEstimator, opts Options, logger *slog.Logger) (*Tracker, error) {
	if flow == nil {
		return nil, errors.New("tracking: nil flow estimator")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{flow: flow, opts: opts, logger: logger}, nil
}

// frameResult is the outcome of the forward-backward pass for one frame.
type frameResult struct {
	points    []tracks.Point
	valid     []bool
	roundTrip []float64
}

// Track follows kps through seq and returns the raw per-frame table and the
// globally matched subset.
//
// When fewer than MinMatched keypoints are valid in every frame, Track
// returns the raw table, a nil matched table and a
// *tracks.InsufficientFeaturesError whose Raw field holds the same table.
func (t *Tracker) Track(ctx context.Context, seq *imaging.Sequence, kps tracks.KeypointSet) (*tracks.FrameTrackTable, *tracks.MatchedTrackTable, error) {
	n := seq.Len()
	k := len(kps)
	ref := seq.Reference()

	table := &tracks.FrameTrackTable{
		Frames: seq.IDs(),
		Points: make([][]tracks.Point, n),
		Valid:  make([][]bool, n),
	}
	table.Points[0] = []tracks.Point(kps.Clone())
	table.Valid[0] = make([]bool, k)
	for j := range table.Valid[0] {
		table.Valid[0][j] = true
	}

	results := make([]frameResult, n)
	g, gctx := errgroup.WithContext(ctx)
	workers := t.opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i := 1; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := t.trackFrame(ref, seq.At(i), kps)
			if err != nil {
				return errors.Wrapf(err, "tracking frame %q", seq.At(i).ID)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var accepted []float64
	for i := 1; i < n; i++ {
		table.Points[i] = results[i].points
		table.Valid[i] = results[i].valid
		for j, ok := range results[i].valid {
			if ok {
				accepted = append(accepted, results[i].roundTrip[j])
			}
		}
		t.logger.Debug("frame tracked",
			"frame", seq.At(i).ID,
			"valid", table.ValidCount(i),
			"keypoints", k)
	}
	if len(accepted) > 0 {
		t.logger.Debug("round-trip error of accepted points",
			"mean", stat.Mean(accepted, nil),
			"max", floats.Max(accepted))
	}

	matched, err := SelectMatched(table, t.opts.MinMatched)
	if err != nil {
		return table, nil, err
	}
	return table, matched, nil
}

// trackFrame runs the forward and backward pass against a single frame.
func (t *Tracker) trackFrame(ref, frame imaging.Frame, kps tracks.KeypointSet) (frameResult, error) {
	k := len(kps)

	fwd, fwdOK, err := t.flow.Flow(ref, frame, kps)
	if err != nil {
		return frameResult{}, errors.Wrap(err, "forward flow")
	}
	if len(fwd) != k || len(fwdOK) != k {
		return frameResult{}, errors.Errorf("forward flow returned %d points for %d keypoints", len(fwd), k)
	}

	bwd, bwdOK, err := t.flow.Flow(frame, ref, fwd)
	if err != nil {
		return frameResult{}, errors.Wrap(err, "backward flow")
	}
	if len(bwd) != k || len(bwdOK) != k {
		return frameResult{}, errors.Errorf("backward flow returned %d points for %d keypoints", len(bwd), k)
	}

	res := frameResult{
		points:    fwd,
		valid:     make([]bool, k),
		roundTrip: make([]float64, k),
	}
	for j := range kps {
		e := RoundTripError(kps[j], bwd[j])
		res.roundTrip[j] = e
		res.valid[j] = fwdOK[j] && bwdOK[j] && e <= t.opts.ErrorThreshold
	}
	return res, nil
}

// RoundTripError is the Euclidean distance between a keypoint and its
// backward-tracked position. NaN coordinates yield +Inf.
func RoundTripError(orig, back tracks.Point) float64 {
	e := floats.Distance([]float64{orig.X, orig.Y}, []float64{back.X, back.Y}, 2)
	if math.IsNaN(e) {
		return math.Inf(1)
	}
	return e
}

// SelectMatched keeps the keypoints valid in every row of table, in original
// order, and renumbers them from zero.
func SelectMatched(table *tracks.FrameTrackTable, minMatched int) (*tracks.MatchedTrackTable, error) {
	global := table.GloballyValid()
	var index []int
	for j, ok := range global {
		if ok {
			index = append(index, j)
		}
	}

	if len(index) < minMatched {
		return nil, &tracks.InsufficientFeaturesError{
			Stage:    "matching",
			Found:    len(index),
			Required: minMatched,
			Raw:      table,
		}
	}

	matched := &tracks.MatchedTrackTable{
		Frames: append([]string(nil), table.Frames...),
		Points: make([][]tracks.Point, table.NumFrames()),
		Index:  index,
	}
	for i, row := range table.Points {
		out := make([]tracks.Point, len(index))
		for c, j := range index {
			out[c] = row[j]
		}
		matched.Points[i] = out
	}
	return matched, nil
}
