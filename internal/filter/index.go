package filter

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateName is returned when two filters share a name.
var ErrDuplicateName = errors.New("duplicate filter name")

// Description is the diagnostic view of one registered filter.
type Description struct {
	Name     string   `json:"name"`
	Lines    []string `json:"describe,omitempty"`
	Children []string `json:"children,omitempty"`
}

// Index records every filter of a pipeline by unique name for reporting.
type Index struct {
	mu     sync.RWMutex
	byName map[string]Filter
	names  []string
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{byName: make(map[string]Filter)}
}

// Register adds f and, for containers, every descendant.
func (i *Index) Register(f Filter) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.register(f)
}

func (i *Index) register(f Filter) error {
	name := f.Name()
	if _, ok := i.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	i.byName[name] = f
	i.names = append(i.names, name)
	if c, ok := f.(Container); ok {
		for _, child := range c.Children() {
			if err := i.register(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get looks up a filter by name.
func (i *Index) Get(name string) (Filter, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	f, ok := i.byName[name]
	return f, ok
}

// Names returns the registered names in registration order.
func (i *Index) Names() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, len(i.names))
	copy(out, i.names)
	return out
}

// Describe returns a description of every registered filter.
func (i *Index) Describe() []Description {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Description, 0, len(i.names))
	for _, name := range i.names {
		f := i.byName[name]
		d := Description{Name: name, Lines: f.Describe()}
		if c, ok := f.(Container); ok {
			for _, child := range c.Children() {
				d.Children = append(d.Children, child.Name())
			}
		}
		out = append(out, d)
	}
	return out
}
