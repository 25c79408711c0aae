package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// Sub-directory names inside a workspace.
const (
	ImagesDir   = "images"
	FeaturesDir = "features"
	MatchesDir  = "matches"
	PreviewFile = "preview.png"
)

// MinImages is the smallest sequence the pipeline accepts.
const MinImages = 2

// Layout is the resolved set of paths for one workspace.
type Layout struct {
	Root     string
	Images   string
	Features string
	Matches  string
	Preview  string
}

// Resolve returns the layout rooted at dir. It does not touch the filesystem.
func Resolve(dir string) Layout {
	root := filepath.Clean(dir)
	return Layout{
		Root:     root,
		Images:   filepath.Join(root, ImagesDir),
		Features: filepath.Join(root, FeaturesDir),
		Matches:  filepath.Join(root, MatchesDir),
		Preview:  filepath.Join(root, PreviewFile),
	}
}

// IsImage reports whether name has one of the accepted image extensions.
// Only the all-lowercase and all-uppercase spellings are accepted.
func IsImage(name string) bool {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg", ".png", ".JPG", ".JPEG", ".PNG":
		return true
	}
	return false
}

// ListImages returns the image files in dir, sorted by name.
//
// It fails with a *tracks.IOError if dir cannot be read and with a
// *tracks.ConfigError if fewer than MinImages images are present.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &tracks.IOError{Op: "read image folder", Path: dir, Err: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) < MinImages {
		return nil, tracks.NewConfigError("images", "need at least %d images in %s, found %d", MinImages, dir, len(names))
	}

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// Writable reports whether files can be created in dir, creating dir if it
// does not exist yet.
func Writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// EnsureDir creates dir if needed and wraps failures as *tracks.IOError.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &tracks.IOError{Op: "create directory", Path: dir, Err: errors.WithStack(err)}
	}
	return nil
}
