package models

import "slices"

// PolicyConfig is the set of rules every guarded request must satisfy.
type PolicyConfig struct {
	MaxPricePerCall  Amount   `json:"max_price_per_call" yaml:"max_price_per_call"`
	AllowedProviders []string `json:"allowed_providers" yaml:"allowed_providers"`
	AllowedActions   []string `json:"allowed_actions" yaml:"allowed_actions"`
	AllowedTasks     []string `json:"allowed_tasks" yaml:"allowed_tasks"`
}

// PolicyUpdate is a partial policy change. Nil fields are left untouched.
type PolicyUpdate struct {
	MaxPricePerCall  *Amount  `json:"max_price_per_call,omitempty"`
	AllowedProviders []string `json:"allowed_providers,omitempty"`
	AllowedActions   []string `json:"allowed_actions,omitempty"`
	AllowedTasks     []string `json:"allowed_tasks,omitempty"`
}

// FullUpdate returns an update that replaces every field of the policy.
func (p PolicyConfig) FullUpdate() PolicyUpdate {
	price := p.MaxPricePerCall
	return PolicyUpdate{
		MaxPricePerCall:  &price,
		AllowedProviders: nonNil(p.AllowedProviders),
		AllowedActions:   nonNil(p.AllowedActions),
		AllowedTasks:     nonNil(p.AllowedTasks),
	}
}

// Apply merges u into p and returns the result. p is not modified.
func (p PolicyConfig) Apply(u PolicyUpdate) PolicyConfig {
	out := p.Clone()
	if u.MaxPricePerCall != nil {
		out.MaxPricePerCall = *u.MaxPricePerCall
	}
	if u.AllowedProviders != nil {
		out.AllowedProviders = slices.Clone(u.AllowedProviders)
	}
	if u.AllowedActions != nil {
		out.AllowedActions = slices.Clone(u.AllowedActions)
	}
	if u.AllowedTasks != nil {
		out.AllowedTasks = slices.Clone(u.AllowedTasks)
	}
	return out
}

// Clone returns a deep copy.
func (p PolicyConfig) Clone() PolicyConfig {
	return PolicyConfig{
		MaxPricePerCall:  p.MaxPricePerCall,
		AllowedProviders: nonNil(slices.Clone(p.AllowedProviders)),
		AllowedActions:   nonNil(slices.Clone(p.AllowedActions)),
		AllowedTasks:     nonNil(slices.Clone(p.AllowedTasks)),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
