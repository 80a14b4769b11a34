package core

import (
	"annotcore/pkg/domain"
)

// DocumentSource reports the address (URL) of the document currently under
// annotation, as the host perceives it.
type DocumentSource interface {
	DocumentURL() string
}

// DescribeFunc derives selectors locating an annotation within a document.
// The annotation and target arguments exist to satisfy the strategy
// signature; implementations deriving selectors from ambient host state may
// ignore them.
type DescribeFunc func(annotation domain.Annotation, target domain.Target) ([]domain.Selector, error)

// SelectorCreator is a named selector-creation strategy. The host invokes
// Describe once per annotation-creation attempt per registered creator, in
// registration order.
type SelectorCreator struct {
	Name     string
	Describe DescribeFunc
}

// Plugin describes a module that contributes selector creators and rules.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
// Selector creators form an ordered collection; registration order is the
// order the host iterates them in.
type PluginRegistry struct {
	creators []SelectorCreator
	rules    []Rule
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{}
}

// RegisterSelectorCreator appends a selector-creation strategy contributed by
// the plugin. Entries without a name or describe function are ignored.
func (r *PluginRegistry) RegisterSelectorCreator(creator SelectorCreator) {
	if creator.Name == "" || creator.Describe == nil {
		return
	}
	r.creators = append(r.creators, creator)
}

// RegisterRule adds an in-transaction rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// SelectorCreators returns a copy of the registered creators in registration
// order.
func (r *PluginRegistry) SelectorCreators() []SelectorCreator {
	out := make([]SelectorCreator, len(r.creators))
	copy(out, r.creators)
	return out
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// PluginMetadata stores metadata describing an installed plugin.
type PluginMetadata struct {
	Name      string
	Version   string
	Selectors []string
	Rules     []string
}
