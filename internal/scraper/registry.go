package scraper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/drewfead/tw-watcher/internal/config"
)

var ErrUnknownChain = errors.New("unknown chain")

// Chain descriptors, as accepted by Registry.Get.
const (
	DescriptorVieshow  = "vieshow"
	DescriptorShowtime = "showtime"
)

// Registry holds the configured chain scrapers keyed by descriptor.
type Registry struct {
	scrapers map[string]internal.ChainScraper
}

// NewRegistry builds both chain scrapers and applies the middleware in
// order, innermost first.
func NewRegistry(cfg config.Config, middleware ...Middleware) *Registry {
	r := &Registry{scrapers: map[string]internal.ChainScraper{}}
	for _, s := range []internal.ChainScraper{
		NewVieshow(cfg),
		NewShowtime(cfg),
	} {
		wrapped := s
		for _, m := range middleware {
			wrapped = m(wrapped)
		}
		r.scrapers[s.Descriptor()] = wrapped
	}
	return r
}

func (r *Registry) Get(descriptor string) (internal.ChainScraper, error) {
	s, ok := r.scrapers[descriptor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, descriptor)
	}
	return s, nil
}

func (r *Registry) Descriptors() []string {
	out := make([]string, 0, len(r.scrapers))
	for d := range r.scrapers {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Invalidate drops any cached state for one chain. Chains without a
// cache layer are a no-op.
func (r *Registry) Invalidate(descriptor string) error {
	s, err := r.Get(descriptor)
	if err != nil {
		return err
	}
	if inv, ok := s.(internal.CacheInvalidator); ok {
		inv.InvalidateCache()
	}
	return nil
}
