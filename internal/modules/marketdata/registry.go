package marketdata

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownSource means a request named a source no provider is
// registered under.
var ErrUnknownSource = errors.New("marketdata: unknown source")

// Registry maps source names to providers so a request can pick its data
// vendor. Registration happens once during wiring; lookups are read-only
// after that.
type Registry struct {
	providers map[string]*Provider
	def       string
}

// NewRegistry creates a registry with the given default source.
func NewRegistry(defaultSource string) *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
		def:       defaultSource,
	}
}

// Register adds a provider under its adapter's name.
func (r *Registry) Register(p *Provider) {
	r.providers[p.Adapter().Name()] = p
}

// Provider returns the provider for a source, or the default when source
// is empty.
func (r *Registry) Provider(source string) (*Provider, error) {
	if source == "" {
		source = r.def
	}
	p, ok := r.providers[source]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSource, source)
	}
	return p, nil
}

// Default returns the default source name.
func (r *Registry) Default() string {
	return r.def
}

// Sources lists the registered source names, sorted.
func (r *Registry) Sources() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
