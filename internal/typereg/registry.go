// Package typereg holds the document type compatibility registry: for each
// document type, the set of types allowed as its parent.
package typereg

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var typeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,99}$`)

// Registry maps a child document type to its allowed parent types.
// A registered type with an empty parent set accepts any parent.
type Registry struct {
	mu      sync.RWMutex
	parents map[string][]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{parents: make(map[string][]string)}
}

// Default returns a registry preloaded with the built-in document types.
func Default() *Registry {
	r := New()
	for name, parents := range builtin {
		// Built-in names are known valid.
		_ = r.Register(name, parents...)
	}
	return r
}

var builtin = map[string][]string{
	"research_report":  nil,
	"business_context": nil,
	"vision_document":  {"research_report", "business_context"},
	"feature_document": {"vision_document"},
	"epic_document":    {"feature_document"},
	"user_story":       {"epic_document"},
	"ddd_design":       {"epic_document", "feature_document"},
	"testing_strategy": {"feature_document", "epic_document"},
	"test_plan":        {"testing_strategy", "user_story"},
}

// Normalize lower-cases a type name and replaces spaces and hyphens with
// underscores.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

// Register sets the allowed parent types of name, replacing any previous
// entry.
func (r *Registry) Register(name string, parents ...string) error {
	name = Normalize(name)
	if !typeNamePattern.MatchString(name) {
		return fmt.Errorf("invalid document type name %q", name)
	}

	seen := make(map[string]bool, len(parents))
	norm := make([]string, 0, len(parents))
	for _, p := range parents {
		p = Normalize(p)
		if !typeNamePattern.MatchString(p) {
			return fmt.Errorf("type %s: invalid parent type name %q", name, p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		norm = append(norm, p)
	}
	sort.Strings(norm)

	r.mu.Lock()
	r.parents[name] = norm
	r.mu.Unlock()
	return nil
}

// AllowedParentTypes returns the allowed parent types of name. The bool
// reports whether name is registered at all.
func (r *Registry) AllowedParentTypes(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parents, ok := r.parents[Normalize(name)]
	if !ok {
		return nil, false
	}
	out := make([]string, len(parents))
	copy(out, parents)
	return out, true
}

// Types returns every registered type name, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.parents))
	for name := range r.parents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge copies every entry of other into r, overriding existing entries.
func (r *Registry) Merge(other *Registry) {
	other.mu.RLock()
	entries := make(map[string][]string, len(other.parents))
	for k, v := range other.parents {
		entries[k] = v
	}
	other.mu.RUnlock()

	r.mu.Lock()
	for k, v := range entries {
		r.parents[k] = v
	}
	r.mu.Unlock()
}
