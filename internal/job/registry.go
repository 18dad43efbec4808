package job

import "sync"

// Registry associates job ids with live job handles. Inserts are
// last-writer-wins; when the registry is full the oldest entry is evicted.
// Jobs are never persisted; a registry dies with its process.
type Registry struct {
	mu    sync.RWMutex
	max   int
	jobs  map[string]Handle
	order []string
}

func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = 256
	}
	return &Registry{
		max:  max,
		jobs: make(map[string]Handle),
	}
}

func (r *Registry) Put(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.ID()
	if _, exists := r.jobs[id]; !exists {
		r.order = append(r.order, id)
	}
	r.jobs[id] = h

	for len(r.order) > r.max {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.jobs, oldest)
	}
}

func (r *Registry) Get(id string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
