// Package registry is the seam between the open-core engine and the
// enterprise build: premium packages register device transports and feature
// flags at init time, and the server wires whatever showed up.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/netforge-io/changerd/internal/gateway"
)

// DialerFactory creates a device transport from the configured default
// credentials.
type DialerFactory func(defaults gateway.Credentials, dialTimeout time.Duration) gateway.Dialer

// Registry manages premium extensions and features
type Registry struct {
	mu       sync.RWMutex
	dialers  map[string]DialerFactory
	features map[string]bool
}

var (
	registryInstance *Registry
	registryOnce     sync.Once
)

// GetRegistry returns the singleton registry instance
func GetRegistry() *Registry {
	registryOnce.Do(func() {
		registryInstance = &Registry{
			dialers:  make(map[string]DialerFactory),
			features: make(map[string]bool),
		}
	})
	return registryInstance
}

// RegisterDialer registers a device transport factory
func (r *Registry) RegisterDialer(name string, factory DialerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[name] = factory
}

// GetDialer returns a device transport factory by name
func (r *Registry) GetDialer(name string) (DialerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, exists := r.dialers[name]
	return factory, exists
}

// EnableFeature enables a feature flag
func (r *Registry) EnableFeature(feature string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[feature] = true
}

// IsFeatureEnabled checks if a feature is enabled
func (r *Registry) IsFeatureEnabled(feature string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.features[feature]
}

// Features lists the enabled feature flags, sorted.
func (r *Registry) Features() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.features))
	for f := range r.features {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
