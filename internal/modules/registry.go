// Package modules holds the catalog of selectable AI modules.
//
// A Registry is built once at startup and never mutated afterwards, so it is
// safe to share between goroutines without locking.
package modules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/chatxai/internal/domain"
)

var (
	errEmptyCatalog   = errors.New("module catalog is empty")
	errUnknownDefault = errors.New("default module not in catalog")
)

// Registry is an immutable module catalog.
type Registry struct {
	byID       map[string]domain.AIModule
	order      []string
	defaultKey string
}

// New builds a Registry from mods. defaultKey must name one of them.
func New(mods []domain.AIModule, defaultKey string) (*Registry, error) {
	if len(mods) == 0 {
		return nil, errEmptyCatalog
	}

	r := &Registry{
		byID:       make(map[string]domain.AIModule, len(mods)),
		order:      make([]string, 0, len(mods)),
		defaultKey: defaultKey,
	}
	for i, m := range mods {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, fmt.Errorf("module %d: id cannot be empty", i)
		}
		if strings.TrimSpace(m.Model) == "" {
			return nil, fmt.Errorf("module %q: model cannot be empty", m.ID)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("module %q: duplicate id", m.ID)
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		r.byID[m.ID] = m
		r.order = append(r.order, m.ID)
	}

	if _, ok := r.byID[defaultKey]; !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownDefault, defaultKey)
	}
	return r, nil
}

// Get looks a module up by key.
func (r *Registry) Get(key string) (domain.AIModule, bool) {
	m, ok := r.byID[key]
	return m, ok
}

// Default returns the module new conversations start with.
func (r *Registry) Default() domain.AIModule {
	return r.byID[r.defaultKey]
}

// List returns every module in catalog order.
func (r *Registry) List() []domain.AIModule {
	out := make([]domain.AIModule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of modules.
func (r *Registry) Len() int {
	return len(r.order)
}
