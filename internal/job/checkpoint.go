package job

import (
	"path/filepath"

	"github.com/ironsheep/nrsfm-tracks/internal/config"
	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/pipeline"
	"github.com/ironsheep/nrsfm-tracks/internal/trackstore"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
	"github.com/ironsheep/nrsfm-tracks/internal/workspace"
)

// CheckpointView is the content of one frame's checkpoint.
type CheckpointView struct {
	Stage  string         `json:"stage"`
	Frame  string         `json:"frame"`
	Path   string         `json:"path"`
	Count  int            `json:"count"`
	Points []tracks.Point `json:"points"`
}

// StoreFor returns the checkpoint set of a stage inside a workspace.
func StoreFor(layout workspace.Layout, stage string) (*trackstore.Store, error) {
	switch stage {
	case pipeline.StageDetection:
		return trackstore.New(layout.Features), nil
	case pipeline.StageMatching:
		return trackstore.New(layout.Matches), nil
	}
	return nil, tracks.NewConfigError("stage", "must be %q or %q, got %q", pipeline.StageDetection, pipeline.StageMatching, stage)
}

// ReadCheckpoint returns the checkpoint of frame for stage. frame is a frame
// identity, that is an image file name without its extension.
func ReadCheckpoint(dir, stage, frame string) (*CheckpointView, error) {
	if frame == "" {
		return nil, tracks.NewConfigError("frame", "a frame identity is required")
	}
	if filepath.Base(frame) != frame || frame == "." || frame == ".." {
		return nil, tracks.NewConfigError("frame", "%q is not a frame identity", frame)
	}
	store, err := StoreFor(workspace.Resolve(dir), stage)
	if err != nil {
		return nil, err
	}
	pts, err := store.ReadFrame(frame)
	if err != nil {
		return nil, err
	}
	return &CheckpointView{
		Stage:  stage,
		Frame:  frame,
		Path:   store.Path(frame),
		Count:  len(pts),
		Points: pts,
	}, nil
}

// RenderFromCheckpoints draws the preview of a workspace from its stored
// checkpoints, without running either stage. Matched points are omitted when
// no matching checkpoint exists yet.
func RenderFromCheckpoints(dir string, cfg *config.TuningConfig, cache *imaging.ImageCache) (*imaging.PreviewResult, error) {
	layout := workspace.Resolve(dir)
	paths, err := workspace.ListImages(layout.Images)
	if err != nil {
		return nil, err
	}
	ref, err := imaging.LoadFrame(cache, paths[0])
	if err != nil {
		return nil, err
	}

	all, err := trackstore.New(layout.Features).ReadFrame(ref.ID)
	if err != nil {
		return nil, err
	}
	matched, err := trackstore.New(layout.Matches).ReadFrame(ref.ID)
	if err != nil && pipeline.Classify(err) != pipeline.CacheMissing {
		return nil, err
	}

	img, err := imaging.RenderPreview(ref, all, matched, cfg.PreviewStyle())
	if err != nil {
		return nil, err
	}
	return imaging.EncodePreview(img, len(all), len(matched))
}
