package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/ironsheep/nrsfm-tracks/internal/config"
	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/pipeline"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
	"github.com/ironsheep/nrsfm-tracks/internal/workspace"
)

// Request describes one run over a workspace.
type Request struct {
	Workspace  string
	Video      string // optional; frames are extracted into the images folder
	ConfigPath string // optional JSON tuning file
	Overrides  pipeline.Overrides
	Preview    bool
}

// Report summarises a finished run.
type Report struct {
	RunID     string                `json:"run_id"`
	Workspace string                `json:"workspace"`
	Frames    []string              `json:"frames"`
	Width     int                   `json:"width"`
	Height    int                   `json:"height"`
	Keypoints int                   `json:"keypoints"`
	Matched   int                   `json:"matched"`
	Detection pipeline.StageReport  `json:"detection"`
	Matching  pipeline.StageReport  `json:"matching"`
	Preview   string                `json:"preview,omitempty"`
	Elapsed   string                `json:"elapsed"`
	Result    *pipeline.TrackResult `json:"-"`
}

// LoadConfig reads the tuning file at path, or returns the defaults when
// path is empty.
func LoadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// Thresholds converts a tuning file into pipeline thresholds.
func Thresholds(cfg *config.TuningConfig) pipeline.Thresholds {
	return pipeline.Thresholds{
		Backend:   cfg.GetBackend(),
		Detection: cfg.DetectionOptions(),
		Tracking:  cfg.TrackingOptions(),
		Flow:      cfg.FlowOptions(),
	}
}

// Frames returns the image paths of a workspace, extracting them from video
// first when one is given.
func Frames(ctx context.Context, layout workspace.Layout, video string, maxFrames int) ([]string, error) {
	if video != "" {
		return workspace.ExtractFrames(ctx, video, layout.Images, maxFrames)
	}
	return workspace.ListImages(layout.Images)
}

// Execute runs the pipeline over req.Workspace.
func Execute(ctx context.Context, req Request, cache *imaging.ImageCache, logger *slog.Logger) (*Report, error) {
	start := time.Now()
	if req.Workspace == "" {
		return nil, tracks.NewConfigError("workspace", "a workspace directory is required")
	}
	cfg, err := LoadConfig(req.ConfigPath)
	if err != nil {
		return nil, err
	}
	th := Thresholds(cfg)

	layout := workspace.Resolve(req.Workspace)
	paths, err := Frames(ctx, layout, req.Video, cfg.GetMaxVideoFrames())
	if err != nil {
		return nil, err
	}
	seq, err := imaging.LoadSequence(cache, paths)
	if err != nil {
		return nil, err
	}

	logger.Info("parameters",
		"workspace", layout.Root,
		"images", len(paths),
		"backend", th.Backend,
		"max_features", th.Detection.MaxCount,
		"quality_level", th.Detection.QualityLevel,
		"min_distance", th.Detection.MinDistance,
		"error_threshold", th.Tracking.ErrorThreshold,
		"min_matched", th.Tracking.MinMatched,
		"redo_detection", req.Overrides.RedoDetection,
		"redo_matching", req.Overrides.RedoMatching)

	runner := &pipeline.Runner{Logger: logger}
	res, err := runner.Run(ctx, seq, pipeline.LocationsFor(layout), req.Overrides, th)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:     res.RunID,
		Workspace: layout.Root,
		Frames:    seq.IDs(),
		Width:     seq.Width(),
		Height:    seq.Height(),
		Keypoints: len(res.Keypoints),
		Matched:   res.Matched.NumTracks(),
		Detection: res.Detection,
		Matching:  res.Matching,
		Result:    res,
	}

	if req.Preview {
		img, err := imaging.RenderPreview(seq.Reference(), res.Keypoints, res.Matched.Points[0], cfg.PreviewStyle())
		if err != nil {
			return nil, err
		}
		if err := imaging.SavePreview(img, layout.Preview); err != nil {
			return nil, errors.Wrap(err, "preview")
		}
		rep.Preview = layout.Preview
		logger.Info("preview written", "path", layout.Preview)
	}

	rep.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return rep, nil
}
