package imaging

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// ImageCache provides thread-safe caching of loaded images to avoid redundant disk reads.
//
// The cache stores decoded image.Image objects keyed by their file path. Once an image
// is loaded, subsequent Load() calls for the same path return the cached copy without
// disk I/O. The MCP server keeps one cache for its lifetime so repeated runs on the
// same workspace decode each frame once.
//
// ImageCache is safe for concurrent use by multiple goroutines.
//
// # Example Usage
//
//	cache := imaging.NewImageCache()
//	seq, err := imaging.LoadSequence(cache, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cache.Evict(paths[0]) // Optional: free memory
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]image.Image),
	}
}

// Load retrieves an image from the cache or decodes it from disk if not cached.
//
// Supported formats are those registered by github.com/disintegration/imaging
// (PNG, JPEG, GIF, TIFF, BMP). EXIF orientation is applied on decode so that
// frames shot in portrait come out upright.
//
// # Errors
//
//   - Returns *tracks.IOError if the file does not exist, cannot be read or
//     is not a decodable image
func (c *ImageCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &tracks.IOError{Op: "decode image", Path: path, Err: err}
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()

	return img, nil
}

// Clear removes all images from the cache, freeing the associated memory.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.mu.Unlock()
}

// Evict removes a specific image from the cache by its path.
//
// If the path is not in the cache, this method does nothing.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Frame is one decoded image of a sequence together with its identity.
type Frame struct {
	// ID is the checkpoint key: the source file name without its extension.
	ID string

	// Path is the source file, empty for frames built in memory.
	Path string

	// Image is the decoded image. It must not be modified.
	Image image.Image

	// Width and Height are the pixel dimensions of Image.
	Width  int
	Height int
}

// NewFrame wraps an in-memory image as a frame with the given identity.
func NewFrame(id string, img image.Image) Frame {
	b := img.Bounds()
	return Frame{ID: id, Image: img, Width: b.Dx(), Height: b.Dy()}
}

// Identity derives a frame identity from a source path.
//
//	Identity("/ws/images/frame_0003.JPG") == "frame_0003"
func Identity(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadFrame decodes the image at path through the cache.
func LoadFrame(cache *ImageCache, path string) (Frame, error) {
	img, err := cache.Load(path)
	if err != nil {
		return Frame{}, err
	}
	f := NewFrame(Identity(path), img)
	f.Path = path
	return f, nil
}

// Sequence is an ordered, immutable list of equally sized frames. Frame 0 is
// the reference frame.
type Sequence struct {
	frames []Frame
}

// NewSequence validates frames and builds a sequence.
//
// # Errors
//
//   - *tracks.ConfigError if fewer than two frames are given or two frames
//     share an identity
//   - *tracks.SizeMismatchError if any frame differs in size from frame 0
func NewSequence(frames []Frame) (*Sequence, error) {
	if len(frames) < 2 {
		return nil, tracks.NewConfigError("frames", "at least 2 images are required, got %d", len(frames))
	}

	ref := frames[0]
	seen := make(map[string]int, len(frames))
	for i, f := range frames {
		if prev, dup := seen[f.ID]; dup {
			return nil, tracks.NewConfigError("frames", "frames %d and %d share identity %q", prev, i, f.ID)
		}
		seen[f.ID] = i

		if f.Width != ref.Width || f.Height != ref.Height {
			return nil, &tracks.SizeMismatchError{
				Subject:  fmt.Sprintf("frame %q", f.ID),
				Expected: fmt.Sprintf("%dx%d", ref.Width, ref.Height),
				Actual:   fmt.Sprintf("%dx%d", f.Width, f.Height),
			}
		}
	}

	out := make([]Frame, len(frames))
	copy(out, frames)
	return &Sequence{frames: out}, nil
}

// LoadSequence decodes every path in order and builds a sequence from them.
func LoadSequence(cache *ImageCache, paths []string) (*Sequence, error) {
	frames := make([]Frame, 0, len(paths))
	for _, p := range paths {
		f, err := LoadFrame(cache, p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return NewSequence(frames)
}

// Len returns the number of frames.
func (s *Sequence) Len() int { return len(s.frames) }

// At returns frame i.
func (s *Sequence) At(i int) Frame { return s.frames[i] }

// Reference returns the first frame.
func (s *Sequence) Reference() Frame { return s.frames[0] }

// Width returns the common frame width.
func (s *Sequence) Width() int { return s.frames[0].Width }

// Height returns the common frame height.
func (s *Sequence) Height() int { return s.frames[0].Height }

// IDs returns frame identities in sequence order.
func (s *Sequence) IDs() []string {
	ids := make([]string, len(s.frames))
	for i, f := range s.frames {
		ids[i] = f.ID
	}
	return ids
}
