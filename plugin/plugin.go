// Package plugin implements the directive-stream transform contract that
// external plugin hosts (WASM, native) fit into. The core never executes a
// plugin host's internals; it only chains whatever Plugin values the caller
// supplies and folds their errors into the diagnostic stream.
package plugin

import "github.com/ledgerkit/ledgerkit/ast"

// Plugin is a pure transform over a fully interpolated, pad-expanded
// directive stream. Implementations must not mutate the input slice.
type Plugin interface {
	// Name identifies the plugin for diagnostics and --native-plugin lookup.
	Name() string

	// Apply returns a (possibly modified) directive stream plus any errors
	// produced while processing it. A non-empty error slice does not stop
	// the chain; later plugins still run against Apply's returned directives.
	Apply(directives []ast.Directive, config string) ([]ast.Directive, []error)
}

// Chain runs plugins in order, feeding each one's output directives to the
// next. All errors from every plugin are collected and returned alongside
// the final directive stream.
func Chain(plugins []Plugin, configs []string, directives []ast.Directive) ([]ast.Directive, []error) {
	var allErrors []error

	for i, p := range plugins {
		var cfg string
		if i < len(configs) {
			cfg = configs[i]
		}

		next, errs := p.Apply(directives, cfg)
		directives = next
		allErrors = append(allErrors, errs...)
	}

	return directives, allErrors
}

// Registry resolves a plugin by the name passed to --native-plugin.
type Registry map[string]Plugin

// DefaultRegistry contains the plugins this implementation ships natively.
func DefaultRegistry() Registry {
	return Registry{
		"auto_accounts": &AutoAccounts{},
	}
}

// Lookup returns the named plugin, or nil if unknown.
func (r Registry) Lookup(name string) Plugin {
	return r[name]
}
