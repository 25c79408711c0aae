package tracking

import (
	"sort"
	"strings"
	"sync"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// FlowFactory builds a FlowEstimator from validated options.
type FlowFactory func(FlowOptions) (FlowEstimator, error)

var (
	flowBackendsMu sync.RWMutex
	flowBackends   = map[string]FlowFactory{
		"native": func(opts FlowOptions) (FlowEstimator, error) {
			lk, err := NewLucasKanade(opts)
			if err != nil {
				return nil, err
			}
			return lk, nil
		},
	}
)

// RegisterFlow makes a flow backend available by name.
func RegisterFlow(name string, f FlowFactory) {
	flowBackendsMu.Lock()
	defer flowBackendsMu.Unlock()
	flowBackends[name] = f
}

// FlowBackends returns the registered flow backend names, sorted.
func FlowBackends() []string {
	flowBackendsMu.RLock()
	defer flowBackendsMu.RUnlock()
	names := make([]string, 0, len(flowBackends))
	for name := range flowBackends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFlowBackend builds the estimator registered under name; "" selects
// "native".
func NewFlowBackend(name string, opts FlowOptions) (FlowEstimator, error) {
	if name == "" {
		name = "native"
	}
	flowBackendsMu.RLock()
	f, ok := flowBackends[name]
	flowBackendsMu.RUnlock()
	if !ok {
		return nil, tracks.NewConfigError("backend", "flow backend %q is not built in (available: %s)", name, strings.Join(FlowBackends(), ", "))
	}
	return f(opts)
}
