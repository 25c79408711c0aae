package tracks

import "fmt"

// ConfigError reports unusable run parameters: too few frames or thresholds
// outside their domain.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IOError reports a file that could not be read, decoded or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s", e.Op, e.Path)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// SizeMismatchError reports frames whose dimensions differ from the reference
// frame, or checkpoint rows whose column count differs across frames.
type SizeMismatchError struct {
	Subject  string
	Expected string
	Actual   string
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %s, got %s", e.Subject, e.Expected, e.Actual)
}

// FormatError reports a checkpoint whose content does not follow the
// two-row layout.
type FormatError struct {
	Path   string
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed checkpoint %s line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed checkpoint %s: %s", e.Path, e.Reason)
}

// InsufficientFeaturesError reports that fewer tracks than required survived.
//
// When raised by the tracker, Raw carries the computed per-frame table so the
// caller can inspect it; it is never persisted.
type InsufficientFeaturesError struct {
	Stage    string
	Found    int
	Required int
	Raw      *FrameTrackTable
}

func (e *InsufficientFeaturesError) Error() string {
	return fmt.Sprintf("%s: found %d features, need at least %d", e.Stage, e.Found, e.Required)
}
