package grid

import "sync"

// DefaultGridName is the grid looked up when callers do not care about
// naming one.
const DefaultGridName = "home"

// Registry maps grid names to Grid instances with implicit creation. It is
// an explicit object handed to whoever needs grid lookup, so tests get
// isolation through Reset instead of process-wide state.
type Registry struct {
	mu       sync.Mutex
	grids    map[string]*Grid
	defaults Options
}

// NewRegistry creates a registry whose implicitly created grids use the
// given default options.
func NewRegistry(defaults Options) *Registry {
	return &Registry{
		grids:    make(map[string]*Grid),
		defaults: defaults,
	}
}

// Get returns the grid with the given name, creating it with the registry
// defaults when it does not exist yet.
func (r *Registry) Get(name string) *Grid {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grids[name]
	if !ok {
		g = New(name, r.defaults)
		r.grids[name] = g
	}
	return g
}

// Home returns the default grid.
func (r *Registry) Home() *Grid {
	return r.Get(DefaultGridName)
}

// Put registers a pre-built grid, replacing any grid with the same name.
func (r *Registry) Put(g *Grid) {
	r.mu.Lock()
	r.grids[g.Name()] = g
	r.mu.Unlock()
}

// Names returns the names of all registered grids.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.grids))
	for name := range r.grids {
		out = append(out, name)
	}
	return out
}

// Reset closes and forgets every grid. Meant for test isolation and
// shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grids {
		g.Close()
	}
	r.grids = make(map[string]*Grid)
}
