package raid

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry tracks the arrays of a process by name, serving as the lookup
// for the admin surface and the health monitor.
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - No locks held while calling into arrays
type Registry struct {
	// arrays maps array names to live arrays.
	// Protected by mu for thread-safe access.
	arrays map[string]*Array

	mu sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		arrays: make(map[string]*Array),
	}
}

// Add registers arr under its name.
//
// Returns:
//   - ErrExists if another array already uses the name
func (r *Registry) Add(arr *Array) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.arrays[arr.Name]; exists {
		return errors.Wrapf(ErrExists, "array %s", arr.Name)
	}
	r.arrays[arr.Name] = arr
	return nil
}

// Get looks an array up by name.
func (r *Registry) Get(name string) (*Array, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	arr, ok := r.arrays[name]
	return arr, ok
}

// Remove unregisters and returns the named array. It does not stop it.
func (r *Registry) Remove(name string) (*Array, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	arr, ok := r.arrays[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "array %s", name)
	}
	delete(r.arrays, name)
	return arr, nil
}

// List returns the registered arrays sorted by name.
func (r *Registry) List() []*Array {
	r.mu.RLock()
	list := make([]*Array, 0, len(r.arrays))
	for _, arr := range r.arrays {
		list = append(list, arr)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Infos returns a snapshot of every array, sorted by name.
func (r *Registry) Infos() []Info {
	list := r.List()
	infos := make([]Info, 0, len(list))
	for _, arr := range list {
		infos = append(infos, arr.Info())
	}
	return infos
}
