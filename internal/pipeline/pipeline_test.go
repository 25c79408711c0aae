package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/trackstore"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
	"github.com/ironsheep/nrsfm-tracks/internal/workspace"
)

// fixedDetector returns the same keypoints on every call.
type fixedDetector struct {
	kps   tracks.KeypointSet
	err   error
	calls atomic.Int32
}

func (d *fixedDetector) Detect(imaging.Frame) (tracks.KeypointSet, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.kps.Clone(), nil
}

// shiftFlow moves every point by a per-frame offset and reports failure for
// the listed keypoint positions in the forward pass.
type shiftFlow struct {
	ref   string
	shift map[string]tracks.Point
	fail  map[string][]int
	calls atomic.Int32
}

func (f *shiftFlow) Flow(from, to imaging.Frame, pts []tracks.Point) ([]tracks.Point, []bool, error) {
	f.calls.Add(1)
	forward := from.ID == f.ref
	frame := to.ID
	if !forward {
		frame = from.ID
	}
	s := f.shift[frame]
	out := make([]tracks.Point, len(pts))
	ok := make([]bool, len(pts))
	for j, p := range pts {
		ok[j] = true
		if forward {
			out[j] = tracks.Point{X: p.X + s.X, Y: p.Y + s.Y}
		} else {
			out[j] = tracks.Point{X: p.X - s.X, Y: p.Y - s.Y}
		}
	}
	if forward {
		for _, j := range f.fail[frame] {
			ok[j] = false
		}
	}
	return out, ok, nil
}

type fixture struct {
	seq    *imaging.Sequence
	loc    Locations
	det    *fixedDetector
	flow   *shiftFlow
	runner *Runner
	th     Thresholds
}

func newFixture(t *testing.T, k int, fail map[string][]int) *fixture {
	t.Helper()
	frames := make([]imaging.Frame, 3)
	for i := range frames {
		frames[i] = imaging.NewFrame(fmt.Sprintf("img_%03d", i), image.NewGray(image.Rect(0, 0, 200, 200)))
	}
	seq, err := imaging.NewSequence(frames)
	require.NoError(t, err)

	kps := make(tracks.KeypointSet, k)
	for j := range kps {
		kps[j] = tracks.Point{X: float64(10 + (j%10)*18), Y: float64(10 + (j/10)*18)}
	}

	f := &fixture{
		seq: seq,
		loc: LocationsFor(workspace.Resolve(t.TempDir())),
		det: &fixedDetector{kps: kps},
		flow: &shiftFlow{
			ref:   "img_000",
			shift: map[string]tracks.Point{"img_001": {X: 1.5, Y: -0.25}, "img_002": {X: 3, Y: 0.5}},
			fail:  fail,
		},
		th: DefaultThresholds(),
	}
	f.runner = &Runner{Detector: f.det, Flow: f.flow}
	return f
}

func (f *fixture) run(t *testing.T, ov Overrides) (*TrackResult, error) {
	t.Helper()
	return f.runner.Run(context.Background(), f.seq, f.loc, ov, f.th)
}

func readDir(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = data
	}
	return out
}

func TestRun_FirstRunComputesAndPersists(t *testing.T) {
	f := newFixture(t, 20, nil)

	res, err := f.run(t, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, CacheMissing, res.Detection.Cache)
	assert.Equal(t, Recompute, res.Detection.Decision)
	assert.Equal(t, CacheStale, res.Matching.Cache)
	assert.Equal(t, Recompute, res.Matching.Decision)
	assert.Equal(t, []State{NeedsDetection, DetectionReady, NeedsMatching, MatchingReady}, res.Trace)
	assert.NotEmpty(t, res.RunID)

	require.NotNil(t, res.Raw)
	require.NotNil(t, res.Matched)
	assert.Equal(t, 20, res.Matched.NumTracks())
	assert.Equal(t, tracks.Point{X: 11.5, Y: 9.75}, res.Matched.Points[1][0])

	assert.Len(t, readDir(t, f.loc.Detection), 3)
	assert.Len(t, readDir(t, f.loc.Matching), 3)
	assert.Equal(t, int32(1), f.det.calls.Load())
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t, 20, map[string][]int{"img_001": {3}})

	first, err := f.run(t, Overrides{})
	require.NoError(t, err)
	before := readDir(t, f.loc.Matching)
	flowCalls := f.flow.calls.Load()

	second, err := f.run(t, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, Reload, second.Detection.Decision)
	assert.Equal(t, Reload, second.Matching.Decision)
	assert.Equal(t, []State{DetectionReady, MatchingReady}, second.Trace)
	assert.Equal(t, int32(1), f.det.calls.Load(), "detector must not run again")
	assert.Equal(t, flowCalls, f.flow.calls.Load(), "tracker must not run again")

	assert.Equal(t, before, readDir(t, f.loc.Matching))
	assert.Equal(t, first.Keypoints, second.Keypoints)
	assert.Equal(t, first.Matched, second.Matched)
	assert.Nil(t, second.Raw)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_DetectionOverrideCascades(t *testing.T) {
	f := newFixture(t, 20, nil)
	_, err := f.run(t, Overrides{})
	require.NoError(t, err)

	res, err := f.run(t, Overrides{RedoDetection: true})
	require.NoError(t, err)

	assert.Equal(t, Recompute, res.Detection.Decision)
	assert.True(t, res.Detection.Forced)
	assert.Equal(t, Recompute, res.Matching.Decision)
	assert.Equal(t, CacheStale, res.Matching.Cache)
	assert.NotNil(t, res.Raw)
	assert.Equal(t, int32(2), f.det.calls.Load())
}

func TestRun_MatchingOverrideOnly(t *testing.T) {
	f := newFixture(t, 20, nil)
	_, err := f.run(t, Overrides{})
	require.NoError(t, err)

	res, err := f.run(t, Overrides{RedoMatching: true})
	require.NoError(t, err)

	assert.Equal(t, Reload, res.Detection.Decision)
	assert.Equal(t, CacheValid, res.Matching.Cache)
	assert.Equal(t, Recompute, res.Matching.Decision)
	assert.Equal(t, int32(1), f.det.calls.Load())
}

func TestRun_MalformedMatchingCacheIsRecomputed(t *testing.T) {
	f := newFixture(t, 20, nil)
	_, err := f.run(t, Overrides{})
	require.NoError(t, err)

	bad := filepath.Join(f.loc.Matching, "img_002.csv")
	require.NoError(t, os.WriteFile(bad, []byte("1,2,3\n4,5\n"), 0644))

	res, err := f.run(t, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, Reload, res.Detection.Decision)
	assert.Equal(t, CacheMalformed, res.Matching.Cache)
	assert.Equal(t, Recompute, res.Matching.Decision)

	var fmtErr *tracks.FormatError
	assert.True(t, errors.As(res.Matching.LoadErr, &fmtErr))

	_, err = trackstore.New(f.loc.Matching).Load(f.seq.IDs())
	assert.NoError(t, err, "the repaired set should load cleanly")
}

func TestRun_MissingDetectionFileRecomputesBoth(t *testing.T) {
	f := newFixture(t, 20, nil)
	_, err := f.run(t, Overrides{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.loc.Detection, "img_001.csv")))

	res, err := f.run(t, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, CacheMissing, res.Detection.Cache)
	assert.Equal(t, Recompute, res.Detection.Decision)
	assert.Equal(t, Recompute, res.Matching.Decision)
}

func TestRun_MatchesFromOtherKeypointsAreRejected(t *testing.T) {
	f := newFixture(t, 20, nil)
	_, err := f.run(t, Overrides{})
	require.NoError(t, err)

	// Rewrite the detection set with shifted keypoints, leaving matches alone.
	moved := f.det.kps.Clone()
	for j := range moved {
		moved[j].X += 0.5
	}
	rows := replicate(moved, 3)
	require.NoError(t, trackstore.New(f.loc.Detection).Write(context.Background(), f.seq.IDs(), rows))

	res, err := f.run(t, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, Reload, res.Detection.Decision)
	assert.Equal(t, CacheMalformed, res.Matching.Cache)
	assert.Equal(t, Recompute, res.Matching.Decision)
	assert.Equal(t, moved[0], res.Matched.Points[0][0])
}

func TestRun_InconsistentDetectionCopies(t *testing.T) {
	f := newFixture(t, 20, nil)
	_, err := f.run(t, Overrides{})
	require.NoError(t, err)

	rows := replicate(f.det.kps, 3)
	rows[2] = f.det.kps.Clone()
	rows[2][5].Y++
	require.NoError(t, trackstore.New(f.loc.Detection).Write(context.Background(), f.seq.IDs(), rows))

	res, err := f.run(t, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, CacheMalformed, res.Detection.Cache)
	assert.Equal(t, Recompute, res.Detection.Decision)
}

func TestRun_UnwritableLocationFails(t *testing.T) {
	f := newFixture(t, 20, nil)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	f.loc = Locations{
		Detection: filepath.Join(blocker, "features"),
		Matching:  filepath.Join(blocker, "matches"),
	}

	res, err := f.run(t, Overrides{})
	assert.Nil(t, res)
	var ioErr *tracks.IOError
	require.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.Equal(t, f.loc.Detection, ioErr.Path)
	assert.Equal(t, int32(0), f.det.calls.Load())
}

func TestRun_UnwritableMatchingFailsBeforeDetection(t *testing.T) {
	f := newFixture(t, 20, nil)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	f.loc.Matching = filepath.Join(blocker, "matches")

	_, err := f.run(t, Overrides{})
	var ioErr *tracks.IOError
	require.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.Equal(t, f.loc.Matching, ioErr.Path)
	assert.Equal(t, int32(0), f.det.calls.Load())
	_, statErr := os.Stat(f.loc.Detection)
	assert.True(t, os.IsNotExist(statErr), "no detection checkpoints should be written")
}

func TestRun_MinimumMatchBoundary(t *testing.T) {
	tests := []struct {
		name    string
		invalid []int
		wantErr bool
	}{
		{"nine matched", []int{0, 1, 2}, true},
		{"ten matched", []int{0, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 12, map[string][]int{"img_002": tt.invalid})

			res, err := f.run(t, Overrides{})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 10, res.Matched.NumTracks())
				return
			}

			var insufficient *tracks.InsufficientFeaturesError
			require.True(t, errors.As(err, &insufficient), "got %v", err)
			assert.Equal(t, 9, insufficient.Found)
			assert.Equal(t, 10, insufficient.Required)
			require.NotNil(t, insufficient.Raw)
			assert.Equal(t, 12, insufficient.Raw.NumKeypoints())

			_, statErr := os.Stat(f.loc.Matching)
			assert.True(t, os.IsNotExist(statErr), "no matching checkpoint on failure")
			assert.Len(t, readDir(t, f.loc.Detection), 3, "detection checkpoints are kept")
		})
	}
}

func TestRun_InsufficientAfterRedetectDropsOldMatches(t *testing.T) {
	f := newFixture(t, 20, nil)
	_, err := f.run(t, Overrides{})
	require.NoError(t, err)

	f.flow.fail = map[string][]int{"img_001": {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	_, err = f.run(t, Overrides{RedoDetection: true})
	var insufficient *tracks.InsufficientFeaturesError
	require.True(t, errors.As(err, &insufficient), "got %v", err)

	_, statErr := os.Stat(f.loc.Matching)
	assert.True(t, os.IsNotExist(statErr), "matches of the superseded keypoints must be gone")
}

func TestRun_EndToEndScenario(t *testing.T) {
	fail := map[string][]int{
		"img_001": {48, 49},
		"img_002": {45, 46, 47, 48, 49},
	}
	f := newFixture(t, 50, fail)

	res, err := f.run(t, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, 48, res.Raw.ValidCount(1))
	assert.Equal(t, 45, res.Raw.ValidCount(2))
	require.Equal(t, 45, res.Matched.NumTracks())
	for c := 0; c < 45; c++ {
		assert.Equal(t, c, res.Matched.Index[c])
		kp := f.det.kps[c]
		assert.Equal(t, kp, res.Matched.Points[0][c])
		assert.Equal(t, tracks.Point{X: kp.X + 1.5, Y: kp.Y - 0.25}, res.Matched.Points[1][c])
		assert.Equal(t, tracks.Point{X: kp.X + 3, Y: kp.Y + 0.5}, res.Matched.Points[2][c])
	}

	// Invalid entries keep their forward prediction in the raw table.
	assert.False(t, res.Raw.Valid[2][49])
	assert.Equal(t, tracks.Point{X: f.det.kps[49].X + 3, Y: f.det.kps[49].Y + 0.5}, res.Raw.Points[2][49])

	// Reloading restores the keypoint index of every column.
	again, err := f.run(t, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, res.Matched.Index, again.Matched.Index)
}

func TestRun_DetectorErrorWritesNothing(t *testing.T) {
	f := newFixture(t, 20, nil)
	f.det.err = &tracks.InsufficientFeaturesError{Stage: "detection", Found: 3, Required: 50}

	_, err := f.run(t, Overrides{})
	var insufficient *tracks.InsufficientFeaturesError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, "detection", insufficient.Stage)

	_, statErr := os.Stat(f.loc.Detection)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ConfigErrors(t *testing.T) {
	f := newFixture(t, 20, nil)

	var cfgErr *tracks.ConfigError
	_, err := f.runner.Run(context.Background(), nil, f.loc, Overrides{}, f.th)
	assert.True(t, errors.As(err, &cfgErr), "nil sequence: %v", err)

	th := f.th
	th.Tracking.MinMatched = 0
	_, err = f.runner.Run(context.Background(), f.seq, f.loc, Overrides{}, th)
	require.True(t, errors.As(err, &cfgErr), "min matched: %v", err)
	assert.Equal(t, "min_matched", cfgErr.Field)

	_, err = f.runner.Run(context.Background(), f.seq, Locations{Detection: "x", Matching: "x/"}, Overrides{}, f.th)
	assert.True(t, errors.As(err, &cfgErr), "shared location: %v", err)

	_, err = f.runner.Run(context.Background(), f.seq, Locations{}, Overrides{}, f.th)
	assert.True(t, errors.As(err, &cfgErr), "empty locations: %v", err)
}

func TestRun_LogsRunID(t *testing.T) {
	f := newFixture(t, 20, nil)
	var buf bytes.Buffer
	f.runner.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	res, err := f.run(t, Overrides{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, res.RunID, rec["run_id"], "line %s", line)
	}
	assert.Contains(t, buf.String(), `"decision":"recompute"`)
}

func TestStageReport_JSON(t *testing.T) {
	rep := StageReport{Cache: CacheMissing, Decision: Recompute, Writable: true}
	data, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cache":"missing"`)
	assert.Contains(t, string(data), `"decision":"recompute"`)
}

// texturedFrame renders a smooth intensity field translated by (dx, dy).
func texturedFrame(id string, size int, dx, dy float64) imaging.Frame {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			u, v := float64(x)-dx, float64(y)-dy
			val := 128 + 45*math.Sin(u/4.0)*math.Cos(v/5.0) + 30*math.Sin((u+2*v)/9.0) + 20*math.Cos((3*u-v)/13.0)
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(math.Max(0, math.Min(255, val))))})
		}
	}
	return imaging.NewFrame(id, img)
}

func TestRun_DefaultCollaborators(t *testing.T) {
	shifts := []tracks.Point{{X: 0, Y: 0}, {X: 2, Y: 1}, {X: 4, Y: 2}}
	frames := make([]imaging.Frame, len(shifts))
	for i, s := range shifts {
		frames[i] = texturedFrame(fmt.Sprintf("tex_%03d", i), 120, s.X, s.Y)
	}
	seq, err := imaging.NewSequence(frames)
	require.NoError(t, err)

	loc := LocationsFor(workspace.Resolve(t.TempDir()))
	th := DefaultThresholds()
	th.Tracking.ErrorThreshold = 0.5

	first, err := Run(context.Background(), seq, loc, Overrides{}, th)
	require.NoError(t, err)
	require.GreaterOrEqual(t, first.Matched.NumTracks(), th.Tracking.MinMatched)
	require.NotNil(t, first.Raw)

	moved := 0
	for c := 0; c < first.Matched.NumTracks(); c++ {
		track := first.Matched.Track(c)
		p := track[0]
		if p.X < 20 || p.X > 100 || p.Y < 20 || p.Y > 100 {
			continue
		}
		for i, s := range shifts {
			assert.InDelta(t, p.X+s.X, track[i].X, 0.3, "track %d frame %d x", c, i)
			assert.InDelta(t, p.Y+s.Y, track[i].Y, 0.3, "track %d frame %d y", c, i)
		}
		moved++
	}
	assert.Positive(t, moved, "no interior tracks")

	before := readDir(t, loc.Matching)

	second, err := Run(context.Background(), seq, loc, Overrides{}, th)
	require.NoError(t, err)
	assert.Equal(t, Reload, second.Detection.Decision)
	assert.Equal(t, Reload, second.Matching.Decision)
	assert.Equal(t, before, readDir(t, loc.Matching))
	assert.Equal(t, first.Matched, second.Matched)
}

func TestRun_UnknownBackend(t *testing.T) {
	f := newFixture(t, 20, nil)
	th := f.th
	th.Backend = "cuda"

	_, err := Run(context.Background(), f.seq, f.loc, Overrides{}, th)
	var cfgErr *tracks.ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, "backend", cfgErr.Field)

	_, statErr := os.Stat(f.loc.Detection)
	assert.True(t, os.IsNotExist(statErr))
}
