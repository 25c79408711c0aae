package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ironsheep/nrsfm-tracks/internal/detection"
	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracking"
	"github.com/ironsheep/nrsfm-tracks/internal/trackstore"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
	"github.com/ironsheep/nrsfm-tracks/internal/workspace"
)

// Stage names, as used in logs and reports.
const (
	StageDetection = "detection"
	StageMatching  = "matching"
)

// Locations are the checkpoint directories of the two stages.
type Locations struct {
	Detection string
	Matching  string
}

// LocationsFor returns the checkpoint directories of a workspace.
func LocationsFor(l workspace.Layout) Locations {
	return Locations{Detection: l.Features, Matching: l.Matches}
}

// Overrides force a stage to be recomputed even when its cache is valid.
type Overrides struct {
	RedoDetection bool
	RedoMatching  bool
}

// Thresholds groups the tunable parameters of both stages.
type Thresholds struct {
	// Backend names the detector and flow implementation; empty selects
	// the pure-Go one.
	Backend   string
	Detection detection.Options
	Tracking  tracking.Options
	Flow      tracking.FlowOptions
}

// DefaultThresholds returns the built-in defaults of every stage.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Detection: detection.DefaultOptions(),
		Tracking:  tracking.DefaultOptions(),
		Flow:      tracking.DefaultFlowOptions(),
	}
}

// Validate reports the first invalid parameter as a *tracks.ConfigError.
func (t Thresholds) Validate() error {
	if err := t.Detection.Validate(); err != nil {
		return err
	}
	if err := t.Tracking.Validate(); err != nil {
		return err
	}
	return t.Flow.Validate()
}

// StageReport records how a stage was resolved.
type StageReport struct {
	Cache    CacheState    `json:"cache"`
	Forced   bool          `json:"forced"`
	Writable bool          `json:"writable"`
	Decision Decision      `json:"decision"`
	Duration time.Duration `json:"duration"`

	// LoadErr is why the cache was not valid, if it was read at all.
	LoadErr error `json:"-"`
}

// TrackResult is the outcome of a successful run.
type TrackResult struct {
	RunID     string
	Keypoints tracks.KeypointSet

	// Raw is the per-frame table of a recomputed matching stage. It is nil
	// when matching was reloaded, since only matched tracks are persisted.
	Raw *tracks.FrameTrackTable

	Matched *tracks.MatchedTrackTable

	Detection StageReport
	Matching  StageReport

	// Trace lists the states the run went through, in order.
	Trace []State
}

// Runner executes runs with optional custom collaborators. The zero value
// builds the detector and flow of the Thresholds.Backend, by default the
// pure-Go Shi-Tomasi detector and Lucas-Kanade flow, and discards logs.
type Runner struct {
	Detector detection.Detector
	Flow     tracking.FlowEstimator
	Logger   *slog.Logger
}

// Run executes a run with the default collaborators.
func Run(ctx context.Context, seq *imaging.Sequence, loc Locations, ov Overrides, th Thresholds) (*TrackResult, error) {
	return (&Runner{}).Run(ctx, seq, loc, ov, th)
}

// Run resolves both stages, computes or reloads them and persists whatever
// was recomputed.
//
// Both decisions are taken before any work starts, so a run that cannot
// persist a required recompute fails with a *tracks.IOError without
// touching the checkpoints. A recomputed detection removes the matching set
// before the new keypoints are written; matching checkpoints are written
// only once the matched table exists.
func (r *Runner) Run(ctx context.Context, seq *imaging.Sequence, loc Locations, ov Overrides, th Thresholds) (*TrackResult, error) {
	if seq == nil || seq.Len() < 2 {
		return nil, tracks.NewConfigError("frames", "need at least 2 frames")
	}
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if loc.Detection == "" || loc.Matching == "" {
		return nil, tracks.NewConfigError("checkpoints", "both checkpoint locations are required")
	}
	if filepath.Clean(loc.Detection) == filepath.Clean(loc.Matching) {
		return nil, tracks.NewConfigError("checkpoints", "detection and matching share %s", loc.Detection)
	}

	det, flow, err := r.collaborators(th)
	if err != nil {
		return nil, err
	}

	res := &TrackResult{RunID: uuid.NewString()}
	logger := r.logger().With("run_id", res.RunID)
	tracker, err := tracking.New(flow, th.Tracking, logger)
	if err != nil {
		return nil, err
	}

	ids := seq.IDs()
	detStore := trackstore.New(loc.Detection)
	matStore := trackstore.New(loc.Matching)

	logger.Info("run started",
		"frames", len(ids),
		"reference", ids[0],
		"width", seq.Width(),
		"height", seq.Height())

	// Detection
	kps, loadErr := loadKeypoints(detStore, ids)
	res.Detection = probe(detStore, loadErr, ov.RedoDetection)
	logStage(logger, StageDetection, res.Detection)
	if res.Detection.Decision == Fail {
		res.enter(Failed)
		return nil, unwritableError(detStore.Dir(), res.Detection.LoadErr)
	}

	// Matching
	var matched *tracks.MatchedTrackTable
	if res.Detection.Decision == Recompute {
		res.Matching = StageReport{Cache: CacheStale, Forced: true, Writable: matStore.Writable()}
		res.Matching.Decision = Resolve(res.Matching.Cache, res.Matching.Writable, true)
	} else {
		matched, loadErr = loadMatched(matStore, ids, kps, th.Tracking.MinMatched)
		res.Matching = probe(matStore, loadErr, ov.RedoMatching)
	}
	logStage(logger, StageMatching, res.Matching)
	if res.Matching.Decision == Fail {
		res.enter(Failed)
		return nil, unwritableError(matStore.Dir(), res.Matching.LoadErr)
	}

	if res.Detection.Decision == Recompute {
		res.enter(NeedsDetection)
		start := time.Now()
		kps, err = det.Detect(seq.Reference())
		if err != nil {
			res.enter(Failed)
			return nil, errors.Wrap(err, "detection")
		}
		if err := matStore.Remove(); err != nil {
			res.enter(Failed)
			return nil, err
		}
		if err := detStore.Write(ctx, ids, replicate(kps, len(ids))); err != nil {
			res.enter(Failed)
			return nil, errors.Wrap(err, "persist detection")
		}
		res.Detection.Duration = time.Since(start)
		logger.Info("detection complete",
			"keypoints", len(kps),
			"duration", res.Detection.Duration)
	}
	res.enter(DetectionReady)
	res.Keypoints = kps

	if res.Matching.Decision == Recompute {
		res.enter(NeedsMatching)
		start := time.Now()
		raw, m, err := tracker.Track(ctx, seq, kps)
		if err != nil {
			res.enter(Failed)
			var insufficient *tracks.InsufficientFeaturesError
			if errors.As(err, &insufficient) {
				logger.Warn("too few matched tracks",
					"matched", insufficient.Found,
					"required", insufficient.Required,
					"keypoints", len(kps))
			}
			return nil, err
		}
		if err := matStore.Write(ctx, ids, m.Points); err != nil {
			res.enter(Failed)
			return nil, errors.Wrap(err, "persist matching")
		}
		res.Raw = raw
		matched = m
		res.Matching.Duration = time.Since(start)
		logger.Info("matching complete",
			"matched", m.NumTracks(),
			"keypoints", len(kps),
			"duration", res.Matching.Duration)
	}
	res.enter(MatchingReady)
	res.Matched = matched

	logger.Info("run complete",
		"keypoints", len(res.Keypoints),
		"matched", res.Matched.NumTracks(),
		"detection", res.Detection.Decision,
		"matching", res.Matching.Decision)
	return res, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

func (r *Runner) collaborators(th Thresholds) (detection.Detector, tracking.FlowEstimator, error) {
	det := r.Detector
	if det == nil {
		d, err := detection.NewBackend(th.Backend, th.Detection)
		if err != nil {
			return nil, nil, err
		}
		det = d
	}
	flow := r.Flow
	if flow == nil {
		f, err := tracking.NewFlowBackend(th.Backend, th.Flow)
		if err != nil {
			return nil, nil, err
		}
		flow = f
	}
	return det, flow, nil
}

func (res *TrackResult) enter(s State) {
	res.Trace = append(res.Trace, s)
}

// probe turns a load outcome into a resolved StageReport.
func probe(store *trackstore.Store, loadErr error, forced bool) StageReport {
	rep := StageReport{
		Cache:    Classify(loadErr),
		Forced:   forced,
		Writable: store.Writable(),
		LoadErr:  loadErr,
	}
	rep.Decision = Resolve(rep.Cache, rep.Writable, rep.Forced)
	return rep
}

func logStage(logger *slog.Logger, stage string, rep StageReport) {
	attrs := []any{
		"stage", stage,
		"cache", rep.Cache,
		"forced", rep.Forced,
		"writable", rep.Writable,
		"decision", rep.Decision,
	}
	if rep.LoadErr != nil {
		attrs = append(attrs, "reason", rep.LoadErr)
	}
	logger.Info("stage resolved", attrs...)
}

// loadKeypoints reads the detection set. Every frame holds a copy of the
// reference keypoints; a copy that differs is malformed.
func loadKeypoints(store *trackstore.Store, ids []string) (tracks.KeypointSet, error) {
	rows, err := store.Load(ids)
	if err != nil {
		return nil, err
	}
	ref := rows[0]
	for i := 1; i < len(rows); i++ {
		for j := range ref {
			if rows[i][j] != ref[j] {
				return nil, &tracks.FormatError{
					Path:   store.Path(ids[i]),
					Reason: fmt.Sprintf("keypoint %d differs from %s", j, store.Path(ids[0])),
				}
			}
		}
	}
	return tracks.KeypointSet(ref), nil
}

// loadMatched reads the matching set and ties it back to kps. The reference
// row must be an ordered subset of kps, which also restores the keypoint
// index of every column.
func loadMatched(store *trackstore.Store, ids []string, kps tracks.KeypointSet, minMatched int) (*tracks.MatchedTrackTable, error) {
	rows, err := store.Load(ids)
	if err != nil {
		return nil, err
	}
	m := len(rows[0])
	if m > len(kps) {
		return nil, &tracks.SizeMismatchError{
			Subject:  store.Dir(),
			Expected: fmt.Sprintf("at most %d columns", len(kps)),
			Actual:   fmt.Sprintf("%d columns", m),
		}
	}
	if m < minMatched {
		return nil, &tracks.SizeMismatchError{
			Subject:  store.Dir(),
			Expected: fmt.Sprintf("at least %d columns", minMatched),
			Actual:   fmt.Sprintf("%d columns", m),
		}
	}

	index := make([]int, m)
	j := 0
	for c, p := range rows[0] {
		for j < len(kps) && kps[j] != p {
			j++
		}
		if j == len(kps) {
			return nil, &tracks.FormatError{
				Path:   store.Path(ids[0]),
				Reason: fmt.Sprintf("column %d is not one of the current keypoints", c),
			}
		}
		index[c] = j
		j++
	}

	return &tracks.MatchedTrackTable{
		Frames: append([]string(nil), ids...),
		Points: rows,
		Index:  index,
	}, nil
}

func replicate(kps tracks.KeypointSet, n int) [][]tracks.Point {
	rows := make([][]tracks.Point, n)
	for i := range rows {
		rows[i] = []tracks.Point(kps)
	}
	return rows
}
