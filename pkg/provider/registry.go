package provider

import (
	"fmt"
	"sort"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/models"
)

// Route is a resolved provider: its gateway and published price.
type Route struct {
	Name    string
	Price   models.Amount
	Gateway Gateway
}

// Registry resolves provider names to gateways.
type Registry struct {
	routes map[string]Route
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Route)}
}

// NewRegistryFromConfig builds a gateway for every configured provider.
func NewRegistryFromConfig(providers []config.ProviderConfig) (*Registry, error) {
	r := NewRegistry()
	for _, p := range providers {
		var gw Gateway
		switch p.Type {
		case config.ProviderMockEmail, "":
			gw = NewMockEmail(p)
		case config.ProviderHTTP:
			h, err := NewHTTPGateway(p)
			if err != nil {
				return nil, fmt.Errorf("provider %q: %w", p.Name, err)
			}
			gw = h
		default:
			return nil, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
		r.Register(p.Name, p.PricePerCall, gw)
	}
	return r, nil
}

// Register adds or replaces a provider. Not safe for use after serving starts.
func (r *Registry) Register(name string, price models.Amount, gw Gateway) {
	r.routes[name] = Route{Name: name, Price: price, Gateway: gw}
}

// Resolve returns the route for name.
func (r *Registry) Resolve(name string) (Route, bool) {
	route, ok := r.routes[name]
	return route, ok
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.routes))
	for n := range r.routes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
