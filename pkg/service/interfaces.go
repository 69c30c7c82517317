package service

import (
	"errors"
	"sort"
	"sync"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// ErrLayoutNotFound indicates no layout with the given ID.
var ErrLayoutNotFound = errors.New("layout not found")

// LayoutStore provides the layout catalogue consumed by the assignment
// and listing handlers. It is satisfied by *MemoryLayoutStore;
// deployments back it with their content management system.
type LayoutStore interface {
	// Layouts returns the available layouts sorted by ID.
	Layouts() []wire.LayoutInfo

	// Resolve returns the layout with the given ID.
	Resolve(id string) (wire.LayoutInfo, error)
}

// Compile-time check: *MemoryLayoutStore implements LayoutStore.
var _ LayoutStore = (*MemoryLayoutStore)(nil)

// MemoryLayoutStore is an in-memory LayoutStore.
type MemoryLayoutStore struct {
	mu      sync.RWMutex
	layouts map[string]wire.LayoutInfo
}

// NewMemoryLayoutStore creates a store seeded with the given layouts.
func NewMemoryLayoutStore(layouts ...wire.LayoutInfo) *MemoryLayoutStore {
	s := &MemoryLayoutStore{layouts: make(map[string]wire.LayoutInfo)}
	for _, l := range layouts {
		s.layouts[l.ID] = l
	}
	return s
}

// Put adds or replaces a layout.
func (s *MemoryLayoutStore) Put(layout wire.LayoutInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[layout.ID] = layout
}

// Layouts returns the available layouts sorted by ID.
func (s *MemoryLayoutStore) Layouts() []wire.LayoutInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wire.LayoutInfo, 0, len(s.layouts))
	for _, l := range s.layouts {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns the layout with the given ID.
func (s *MemoryLayoutStore) Resolve(id string) (wire.LayoutInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layout, ok := s.layouts[id]
	if !ok {
		return wire.LayoutInfo{}, ErrLayoutNotFound
	}
	return layout, nil
}
