package detection

import (
	"sort"
	"strings"
	"sync"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// Backend names accepted by NewBackend.
const (
	BackendNative = "native"
	BackendGocv   = "gocv"
)

// Factory builds a Detector from validated options.
type Factory func(Options) (Detector, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{
		BackendNative: func(opts Options) (Detector, error) {
			d, err := NewShiTomasi(opts)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
)

// Register makes a detector backend available by name. Registering a name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend builds the detector registered under name. An empty name
// selects BackendNative. Unknown names, including BackendGocv in a build
// without the gocv tag, yield a *tracks.ConfigError.
func NewBackend(name string, opts Options) (Detector, error) {
	if name == "" {
		name = BackendNative
	}
	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, tracks.NewConfigError("backend", "detector backend %q is not built in (available: %s)", name, strings.Join(Backends(), ", "))
	}
	return f(opts)
}
