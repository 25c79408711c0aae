package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// FFmpegBinary is the executable used by ExtractFrames.
var FFmpegBinary = "ffmpeg"

// ExtractFrames decodes at most maxFrames frames of videoPath into outDir as
// frame_0001.png, frame_0002.png and so on, and returns the written paths in
// order.
//
// Frames already present in outDir are left alone; ffmpeg overwrites files of
// the same name.
func ExtractFrames(ctx context.Context, videoPath, outDir string, maxFrames int) ([]string, error) {
	if maxFrames < MinImages {
		return nil, tracks.NewConfigError("max_video_frames", "must be >= %d, got %d", MinImages, maxFrames)
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, &tracks.IOError{Op: "open video", Path: videoPath, Err: err}
	}
	if err := EnsureDir(outDir); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx,
		FFmpegBinary,
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", videoPath,
		"-frames:v", fmt.Sprint(maxFrames),
		filepath.Join(outDir, "frame_%04d.png"),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &tracks.IOError{
			Op:   "extract frames",
			Path: videoPath,
			Err:  fmt.Errorf("ffmpeg failed: %v: %s", err, output),
		}
	}

	var paths []string
	for i := 1; i <= maxFrames; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("frame_%04d.png", i))
		if _, err := os.Stat(p); err != nil {
			break
		}
		paths = append(paths, p)
	}
	if len(paths) < MinImages {
		return nil, tracks.NewConfigError("video", "%s yielded %d frames, need at least %d", videoPath, len(paths), MinImages)
	}
	return paths, nil
}
