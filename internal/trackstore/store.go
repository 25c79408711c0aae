package trackstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
	"github.com/ironsheep/nrsfm-tracks/internal/workspace"
)

// Ext is the file extension of a checkpoint.
const Ext = ".csv"

// Store is one checkpoint set, rooted at a directory.
type Store struct {
	dir string
}

// New returns a Store for dir. The directory does not need to exist.
func New(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

// Dir returns the directory holding the set.
func (s *Store) Dir() string { return s.dir }

// Path returns the checkpoint file for a frame identity.
func (s *Store) Path(identity string) string {
	return filepath.Join(s.dir, identity+Ext)
}

// Writable reports whether the set can be replaced: the parent must accept
// the staging directory, and an existing set directory must allow its
// entries to be removed after the swap.
func (s *Store) Writable() bool {
	if !workspace.Writable(filepath.Dir(s.dir)) {
		return false
	}
	info, err := os.Stat(s.dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return true
	case err != nil:
		return false
	case !info.IsDir():
		return true
	}
	return workspace.Writable(s.dir)
}

// ReadFrame loads the checkpoint of a single frame.
func (s *Store) ReadFrame(identity string) ([]tracks.Point, error) {
	path := s.Path(identity)
	f, err := os.Open(path)
	if err != nil {
		return nil, &tracks.IOError{Op: "open checkpoint", Path: path, Err: err}
	}
	defer f.Close()
	return Decode(f, path)
}

// Load reads the checkpoint of every identity, in the given order.
//
// The column count of the first file defines the width of the set; a later
// file with a different count yields a *tracks.SizeMismatchError. Missing or
// unreadable files yield a *tracks.IOError and malformed ones a
// *tracks.FormatError.
func (s *Store) Load(identities []string) ([][]tracks.Point, error) {
	rows := make([][]tracks.Point, len(identities))
	for i, id := range identities {
		row, err := s.ReadFrame(id)
		if err != nil {
			return nil, err
		}
		if i > 0 && len(row) != len(rows[0]) {
			return nil, &tracks.SizeMismatchError{
				Subject:  s.Path(id),
				Expected: fmt.Sprintf("%d columns", len(rows[0])),
				Actual:   fmt.Sprintf("%d columns", len(row)),
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// Write replaces the set with one file per identity.
//
// Files are written in parallel to a staging directory next to the set. The
// previous set is moved aside only once every file is complete, then removed.
// If anything fails before the swap the previous set is left untouched.
func (s *Store) Write(ctx context.Context, identities []string, rows [][]tracks.Point) error {
	if len(identities) != len(rows) {
		return &tracks.SizeMismatchError{
			Subject:  s.dir,
			Expected: fmt.Sprintf("%d rows", len(identities)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) != len(rows[0]) {
			return &tracks.SizeMismatchError{
				Subject:  identities[i],
				Expected: fmt.Sprintf("%d columns", len(rows[0])),
				Actual:   fmt.Sprintf("%d columns", len(rows[i])),
			}
		}
	}

	parent, base := split(s.dir)
	if err := workspace.EnsureDir(parent); err != nil {
		return err
	}
	staging := filepath.Join(parent, "."+base+"-"+uuid.NewString())
	if err := os.Mkdir(staging, 0755); err != nil {
		return &tracks.IOError{Op: "create staging directory", Path: staging, Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, id := range identities {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return writeFile(filepath.Join(staging, id+Ext), rows[i])
		})
	}
	if err := g.Wait(); err != nil {
		os.RemoveAll(staging)
		return err
	}

	return swap(staging, s.dir)
}

// Remove deletes the whole set.
func (s *Store) Remove() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return &tracks.IOError{Op: "remove checkpoints", Path: s.dir, Err: err}
	}
	return nil
}

func writeFile(path string, row []tracks.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return &tracks.IOError{Op: "create checkpoint", Path: path, Err: err}
	}
	if err := Encode(f, row); err != nil {
		f.Close()
		return &tracks.IOError{Op: "write checkpoint", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &tracks.IOError{Op: "sync checkpoint", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &tracks.IOError{Op: "close checkpoint", Path: path, Err: err}
	}
	return nil
}

// swap moves staging into place of dir. The old directory, if any, is parked
// under a hidden name until the rename succeeds.
func swap(staging, dir string) error {
	parent, base := split(dir)
	old := filepath.Join(parent, "."+base+"-old-"+uuid.NewString())

	hadOld := true
	if err := os.Rename(dir, old); err != nil {
		if !os.IsNotExist(err) {
			os.RemoveAll(staging)
			return &tracks.IOError{Op: "move old checkpoints", Path: dir, Err: err}
		}
		hadOld = false
	}

	if err := os.Rename(staging, dir); err != nil {
		if hadOld {
			os.Rename(old, dir)
		}
		os.RemoveAll(staging)
		return &tracks.IOError{Op: "install checkpoints", Path: dir, Err: errors.WithStack(err)}
	}

	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			return &tracks.IOError{Op: "remove old checkpoints", Path: old, Err: err}
		}
	}
	return nil
}

func split(dir string) (parent, base string) {
	return filepath.Dir(dir), filepath.Base(dir)
}
