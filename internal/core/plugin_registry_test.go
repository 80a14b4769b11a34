package core

import (
	"context"
	"testing"

	"annotcore/pkg/domain"
)

type namedRule struct{ name string }

func (r namedRule) Name() string { return r.name }
func (namedRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{}, nil
}

func TestPluginRegistryIgnoresInvalidEntries(t *testing.T) {
	registry := NewPluginRegistry()
	registry.RegisterSelectorCreator(SelectorCreator{Name: "", Describe: func(Annotation, Target) ([]Selector, error) { return nil, nil }})
	registry.RegisterSelectorCreator(SelectorCreator{Name: "no-describe"})
	registry.RegisterRule(nil)

	if got := len(registry.SelectorCreators()); got != 0 {
		t.Fatalf("expected no creators, got %d", got)
	}
	if got := len(registry.Rules()); got != 0 {
		t.Fatalf("expected no rules, got %d", got)
	}
}

func TestPluginRegistryPreservesRegistrationOrder(t *testing.T) {
	registry := NewPluginRegistry()
	describe := func(Annotation, Target) ([]Selector, error) { return nil, nil }
	registry.RegisterSelectorCreator(SelectorCreator{Name: "first", Describe: describe})
	registry.RegisterSelectorCreator(SelectorCreator{Name: "second", Describe: describe})
	registry.RegisterRule(namedRule{name: "r1"})

	creators := registry.SelectorCreators()
	if len(creators) != 2 || creators[0].Name != "first" || creators[1].Name != "second" {
		t.Fatalf("unexpected creator order: %+v", creators)
	}
	if len(registry.Rules()) != 1 {
		t.Fatalf("expected one rule")
	}

	// Mutating the returned slice must not affect the registry.
	creators[0].Name = "mutated"
	if registry.SelectorCreators()[0].Name != "first" {
		t.Fatalf("registry exposed internal state")
	}
}
