package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/ironsheep/nrsfm-tracks/internal/detection"
	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/tracking"
	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// maxFileSize bounds the tuning file read by LoadTuningConfig.
const maxFileSize = 1 << 20

// TuningConfig holds the thresholds of a tracking run.
//
// Every field is optional; the Get* accessors fall back to the built-in
// defaults, so a partial file only overrides what it names.
type TuningConfig struct {
	// Backend selects the detector and flow implementation: "native" or,
	// in builds with the gocv tag, "gocv".
	Backend *string `json:"backend,omitempty"`

	// Detection
	MaxFeatures  *int     `json:"max_features,omitempty"`
	QualityLevel *float64 `json:"quality_level,omitempty"`
	MinDistance  *float64 `json:"min_distance,omitempty"`
	BlockSize    *int     `json:"block_size,omitempty"`
	MinDetected  *int     `json:"min_detected,omitempty"` // 0 disables the check

	// Matching
	ErrorThreshold *float64 `json:"error_threshold,omitempty"` // pixels
	MinMatched     *int     `json:"min_matched,omitempty"`
	Workers        *int     `json:"workers,omitempty"` // 0 means GOMAXPROCS

	// Optical flow
	FlowWindow        *int     `json:"flow_window,omitempty"`
	FlowLevels        *int     `json:"flow_levels,omitempty"`
	FlowMaxIterations *int     `json:"flow_max_iterations,omitempty"`
	FlowEpsilon       *float64 `json:"flow_epsilon,omitempty"`
	FlowMinEigen      *float64 `json:"flow_min_eigen,omitempty"`

	// Input and preview
	MaxVideoFrames      *int    `json:"max_video_frames,omitempty"`
	PreviewAllColor     *string `json:"preview_all_color,omitempty"`
	PreviewMatchedColor *string `json:"preview_matched_color,omitempty"`
}

// DefaultMaxVideoFrames caps the frames extracted from a video.
const DefaultMaxVideoFrames = 30

// EmptyTuningConfig returns a TuningConfig with every field unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig reads a JSON tuning file and validates it.
// Unknown fields are rejected so that typos do not silently fall back to
// defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, tracks.NewConfigError("config", "file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, &tracks.IOError{Op: "stat config", Path: cleanPath, Err: err}
	}
	if info.Size() > maxFileSize {
		return nil, tracks.NewConfigError("config", "file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, &tracks.IOError{Op: "open config", Path: cleanPath, Err: err}
	}
	defer f.Close()

	cfg := EmptyTuningConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, tracks.NewConfigError("config", "parse %s: %v", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration %s", cleanPath)
	}
	return cfg, nil
}

// Validate checks every derived option set. It returns a *tracks.ConfigError
// naming the offending JSON field.
func (c *TuningConfig) Validate() error {
	if err := c.checkBackend(); err != nil {
		return err
	}
	if err := c.DetectionOptions().Validate(); err != nil {
		return err
	}
	if err := c.TrackingOptions().Validate(); err != nil {
		return err
	}
	if err := c.FlowOptions().Validate(); err != nil {
		return err
	}
	if n := c.GetMaxVideoFrames(); n < 2 {
		return tracks.NewConfigError("max_video_frames", "must be >= 2, got %d", n)
	}
	if _, err := colorful.Hex(c.GetPreviewAllColor()); err != nil {
		return tracks.NewConfigError("preview_all_color", "invalid hex colour %q", c.GetPreviewAllColor())
	}
	if _, err := colorful.Hex(c.GetPreviewMatchedColor()); err != nil {
		return tracks.NewConfigError("preview_matched_color", "invalid hex colour %q", c.GetPreviewMatchedColor())
	}
	return nil
}

// GetBackend returns backend or "native".
func (c *TuningConfig) GetBackend() string {
	if c.Backend == nil || *c.Backend == "" {
		return detection.BackendNative
	}
	return *c.Backend
}

func (c *TuningConfig) checkBackend() error {
	name := c.GetBackend()
	if !contains(detection.Backends(), name) || !contains(tracking.FlowBackends(), name) {
		return tracks.NewConfigError("backend", "%q is not built in (available: %s)", name, strings.Join(detection.Backends(), ", "))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DetectionOptions assembles the detector settings.
func (c *TuningConfig) DetectionOptions() detection.Options {
	def := detection.DefaultOptions()
	return detection.Options{
		MaxCount:     intOr(c.MaxFeatures, def.MaxCount),
		QualityLevel: floatOr(c.QualityLevel, def.QualityLevel),
		MinDistance:  floatOr(c.MinDistance, def.MinDistance),
		BlockSize:    intOr(c.BlockSize, def.BlockSize),
		MinDetected:  intOr(c.MinDetected, def.MinDetected),
	}
}

// TrackingOptions assembles the consistency filter settings.
func (c *TuningConfig) TrackingOptions() tracking.Options {
	def := tracking.DefaultOptions()
	return tracking.Options{
		ErrorThreshold: floatOr(c.ErrorThreshold, def.ErrorThreshold),
		MinMatched:     intOr(c.MinMatched, def.MinMatched),
		Workers:        intOr(c.Workers, def.Workers),
	}
}

// FlowOptions assembles the Lucas-Kanade settings.
func (c *TuningConfig) FlowOptions() tracking.FlowOptions {
	def := tracking.DefaultFlowOptions()
	return tracking.FlowOptions{
		WindowSize:    intOr(c.FlowWindow, def.WindowSize),
		Levels:        intOr(c.FlowLevels, def.Levels),
		MaxIterations: intOr(c.FlowMaxIterations, def.MaxIterations),
		Epsilon:       floatOr(c.FlowEpsilon, def.Epsilon),
		MinEigen:      floatOr(c.FlowMinEigen, def.MinEigen),
	}
}

// PreviewStyle returns the default style with the configured colours.
func (c *TuningConfig) PreviewStyle() imaging.PreviewStyle {
	style := imaging.DefaultPreviewStyle()
	style.AllColor = c.GetPreviewAllColor()
	style.MatchedColor = c.GetPreviewMatchedColor()
	return style
}

// GetMaxVideoFrames returns max_video_frames or the default.
func (c *TuningConfig) GetMaxVideoFrames() int {
	return intOr(c.MaxVideoFrames, DefaultMaxVideoFrames)
}

// GetPreviewAllColor returns preview_all_color or the default.
func (c *TuningConfig) GetPreviewAllColor() string {
	if c.PreviewAllColor == nil || *c.PreviewAllColor == "" {
		return imaging.DefaultPreviewStyle().AllColor
	}
	return *c.PreviewAllColor
}

// GetPreviewMatchedColor returns preview_matched_color or the default.
func (c *TuningConfig) GetPreviewMatchedColor() string {
	if c.PreviewMatchedColor == nil || *c.PreviewMatchedColor == "" {
		return imaging.DefaultPreviewStyle().MatchedColor
	}
	return *c.PreviewMatchedColor
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
