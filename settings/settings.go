// Package settings persists the column-visibility configuration of
// reportlens: which derived percentage columns are enabled and which
// original report columns the operator has hidden.
//
// The configuration is a plain value passed explicitly into every operation
// that consumes it. Persistence failures never surface as errors to the
// scan path: loading falls back to defaults, saving is fire-and-forget.
package settings

import "github.com/hazyhaar/reportlens/metric"

// Config is the visibility policy applied on every pass.
type Config struct {
	// HiddenOriginal holds header texts of original report columns the
	// operator has hidden. Membership means hidden.
	HiddenOriginal map[string]bool `json:"hidden_original"`
	// DerivedEnabled maps descriptor keys to their enabled flag. Keys
	// absent from the map fall back to the descriptor default (enabled),
	// which is what keeps old databases working when descriptors are added.
	DerivedEnabled map[string]bool `json:"derived_enabled"`
}

// Defaults returns the built-in configuration: every derived column enabled,
// nothing hidden.
func Defaults() Config {
	cfg := Config{
		HiddenOriginal: make(map[string]bool),
		DerivedEnabled: make(map[string]bool, len(metric.Specs)),
	}
	for _, s := range metric.Specs {
		cfg.DerivedEnabled[s.Key] = true
	}
	return cfg
}

// Clone returns a deep copy. The engine hands copies to concurrent readers
// so a live toggle never mutates a map mid-pass.
func (c Config) Clone() Config {
	out := Config{
		HiddenOriginal: make(map[string]bool, len(c.HiddenOriginal)),
		DerivedEnabled: make(map[string]bool, len(c.DerivedEnabled)),
	}
	for k, v := range c.HiddenOriginal {
		out.HiddenOriginal[k] = v
	}
	for k, v := range c.DerivedEnabled {
		out.DerivedEnabled[k] = v
	}
	return out
}

// DerivedOn reports whether the descriptor with the given key is enabled.
// Unknown keys are enabled: the descriptor table is the source of truth for
// what exists, the store only records deviations from it.
func (c Config) DerivedOn(key string) bool {
	if v, ok := c.DerivedEnabled[key]; ok {
		return v
	}
	return true
}

// Hidden reports whether an original column header is hidden.
func (c Config) Hidden(header string) bool {
	return c.HiddenOriginal[header]
}
