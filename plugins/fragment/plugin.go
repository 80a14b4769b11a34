// Package fragment contributes a FragmentSelector creator that records the
// fragment identifier of the document address at annotation time, so
// annotations on fragment-addressed documents (e.g. single-page apps) can be
// re-anchored later.
package fragment

import (
	"fmt"
	"net/url"

	"annotcore/internal/core"
)

// SelectorType is the type tag carried by selectors this plugin produces.
const SelectorType = "FragmentSelector"

// Plugin derives fragment selectors from a host-provided document source.
type Plugin struct {
	source core.DocumentSource
}

// New constructs the fragment plugin around the given document source.
func New(source core.DocumentSource) Plugin {
	return Plugin{source: source}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "fragment" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register wires the FragmentSelector creation strategy.
func (p Plugin) Register(registry *core.PluginRegistry) error {
	if p.source == nil {
		return fmt.Errorf("fragment plugin requires a document source")
	}
	registry.RegisterSelectorCreator(core.SelectorCreator{
		Name:     SelectorType,
		Describe: p.describe,
	})
	return nil
}

// describe reads the current document address and extracts its fragment
// identifier. The annotation and target are ignored: the selector reflects
// document state, not annotation content. A document without a fragment still
// yields a selector, with an empty value.
func (p Plugin) describe(core.Annotation, core.Target) ([]core.Selector, error) {
	raw := p.source.DocumentURL()
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("document address %q is not a valid absolute URL", raw)
	}
	return []core.Selector{{Type: SelectorType, Value: u.Fragment}}, nil
}
