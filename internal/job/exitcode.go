package job

import (
	"github.com/pkg/errors"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// Process exit codes by error kind.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitConfig       = 2
	ExitIO           = 3
	ExitSizeMismatch = 4
	ExitFormat       = 5
	ExitInsufficient = 6
)

// ExitCode maps an error to the exit status of the command line tool. An
// IOError that wraps a checkpoint format problem is reported as IO, since
// the failure is the unwritable location.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		cfgErr   *tracks.ConfigError
		ioErr    *tracks.IOError
		sizeErr  *tracks.SizeMismatchError
		fmtErr   *tracks.FormatError
		featsErr *tracks.InsufficientFeaturesError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &featsErr):
		return ExitInsufficient
	case errors.As(err, &ioErr):
		return ExitIO
	case errors.As(err, &sizeErr):
		return ExitSizeMismatch
	case errors.As(err, &fmtErr):
		return ExitFormat
	}
	return ExitFailure
}
