package pipeline

import (
	"os"

	"github.com/pkg/errors"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// State is a step of the run state machine.
type State int

const (
	NeedsDetection State = iota
	DetectionReady
	NeedsMatching
	MatchingReady
	Failed
)

func (s State) String() string {
	switch s {
	case NeedsDetection:
		return "needs-detection"
	case DetectionReady:
		return "detection-ready"
	case NeedsMatching:
		return "needs-matching"
	case MatchingReady:
		return "matching-ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// CacheState is the outcome of probing a checkpoint set.
type CacheState int

const (
	// CacheValid means every frame has a readable, consistent checkpoint.
	CacheValid CacheState = iota
	// CacheMissing means at least one checkpoint file does not exist.
	CacheMissing
	// CacheMalformed means a checkpoint exists but cannot be trusted.
	CacheMalformed
	// CacheStale means the checkpoints were built from a keypoint set that
	// is being replaced, so they were not read at all.
	CacheStale
)

func (c CacheState) String() string {
	switch c {
	case CacheValid:
		return "valid"
	case CacheMissing:
		return "missing"
	case CacheMalformed:
		return "malformed"
	case CacheStale:
		return "stale"
	}
	return "unknown"
}

// Classify maps a checkpoint load error to a CacheState.
func Classify(err error) CacheState {
	if err == nil {
		return CacheValid
	}
	if errors.Is(err, os.ErrNotExist) {
		return CacheMissing
	}
	return CacheMalformed
}

// MarshalText encodes the state by name.
func (c CacheState) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Decision is what a run does with a stage.
type Decision int

const (
	Reload Decision = iota
	Recompute
	Fail
)

func (d Decision) String() string {
	switch d {
	case Reload:
		return "reload"
	case Recompute:
		return "recompute"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// MarshalText encodes the decision by name.
func (d Decision) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Resolve decides how a stage is obtained.
//
// A forced stage or an unusable cache is recomputed when the checkpoint
// location can take the result, and fails otherwise. A valid cache that is
// not forced is reloaded.
func Resolve(cache CacheState, writable, forced bool) Decision {
	if !forced && cache == CacheValid {
		return Reload
	}
	if writable {
		return Recompute
	}
	return Fail
}

// unwritableError describes a stage that can neither be reloaded nor
// repaired.
func unwritableError(dir string, cause error) error {
	if cause == nil {
		cause = errors.New("recompute requested but location is not writable")
	} else {
		cause = errors.Wrap(cause, "checkpoint unusable and location not writable")
	}
	return &tracks.IOError{Op: "write checkpoints", Path: dir, Err: cause}
}
