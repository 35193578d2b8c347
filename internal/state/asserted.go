// Package state tracks named application states asserted against a root,
// used by consumers to coordinate external processes ("build in progress").
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotAsserted is returned when removing a state name that is not
// currently asserted. Recoverable and caller-visible.
var ErrNotAsserted = errors.New("state: not asserted")

// Registry is a named-set registry scoped per root path.
type Registry struct {
	mu     sync.Mutex
	states map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]map[string]struct{}),
	}
}

// Assert marks name as asserted for root. Double-assert is idempotent.
func (g *Registry) Assert(root, name string) {
	if g == nil || root == "" || name == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.states[root]
	if !ok {
		set = make(map[string]struct{})
		g.states[root] = set
	}
	set[name] = struct{}{}
}

// Remove clears an asserted state.
func (g *Registry) Remove(root, name string) error {
	if g == nil {
		return ErrNotAsserted
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.states[root]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAsserted, name)
	}
	if _, ok := set[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotAsserted, name)
	}
	delete(set, name)
	if len(set) == 0 {
		delete(g.states, root)
	}
	return nil
}

// IsAsserted reports whether name is currently asserted for root.
func (g *Registry) IsAsserted(root, name string) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.states[root][name]
	return ok
}

// List returns the asserted state names for root, sorted.
func (g *Registry) List(root string) []string {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	set := g.states[root]
	if len(set) == 0 {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropRoot clears every state asserted against root, used when a root is
// removed from service.
func (g *Registry) DropRoot(root string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, root)
}
