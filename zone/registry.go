package zone

import (
	"runtime"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry is the process-wide name-to-handle map. It holds *Handle
// values behind a cmap.ConcurrentMap so lookups never block on a
// zone-level mutex, and implements the reader-safe swap-in/swap-out
// discipline needed when a zone is replaced or removed while lookups
// against it are still in flight.
type Registry struct {
	handles cmap.ConcurrentMap[string, *Handle]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: cmap.New[*Handle]()}
}

// Lookup returns the handle for name, if any. Callers must not retain the
// returned pointer across a blocking operation without calling
// Handle.Content() again first, since the handle itself never changes
// identity but its content pointer does.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	return r.handles.Get(name)
}

// Register installs a new handle, reader-safely: any reader that observes
// the new entry sees a fully-constructed Handle. Registering over an
// existing name replaces it; the old handle is returned so the caller can
// drive its reclamation under quiescence, mirroring content-tree swap.
func (r *Registry) Register(h *Handle) (old *Handle, replaced bool) {
	old, replaced = r.handles.Get(h.Name)
	r.handles.Set(h.Name, h)
	return old, replaced
}

// Unregister removes name from the registry (the EXPIRE path: once
// expired, a zone is no longer authoritative and must stop answering
// lookups). The handle itself is returned so the caller can wait for
// quiescence before reclaiming its content.
func (r *Registry) Unregister(name string) (*Handle, bool) {
	h, ok := r.handles.Get(name)
	if ok {
		r.handles.Remove(name)
	}
	return h, ok
}

// Names returns a snapshot of currently registered zone names.
func (r *Registry) Names() []string {
	return r.handles.Keys()
}

// Len reports the number of registered zones.
func (r *Registry) Len() int { return r.handles.Count() }

// epoch is the quiescence barrier behind Handle.Swap: a generation
// counter bumped by writers, and a per-generation waitgroup-like counter
// of readers still inside a read region for that generation. A writer
// that swaps in new content can then block until every reader that
// captured the old pointer has finished, without requiring readers to
// take any lock on the fast path.
type epoch struct {
	mu      sync.Mutex
	current int64
	inFlight map[int64]int64
}

func newEpoch() *epoch {
	return &epoch{inFlight: make(map[int64]int64)}
}

// enter begins a read region, returning the generation to exit with.
func (e *epoch) enter() int64 {
	e.mu.Lock()
	g := e.current
	e.inFlight[g]++
	e.mu.Unlock()
	return g
}

// exit ends a read region for generation g.
func (e *epoch) exit(g int64) {
	e.mu.Lock()
	e.inFlight[g]--
	if e.inFlight[g] == 0 {
		delete(e.inFlight, g)
	}
	e.mu.Unlock()
}

// advance bumps the generation and returns the generation readers still
// need to drain (the one being retired).
func (e *epoch) advance() int64 {
	e.mu.Lock()
	retiring := e.current
	e.current++
	e.mu.Unlock()
	return retiring
}

// quiesce blocks until no reader remains in generation g. It is only ever
// called from the single writer holding the zone's mutex, so it cannot
// itself race with advance.
func (e *epoch) quiesce(g int64) {
	for {
		e.mu.Lock()
		n := e.inFlight[g]
		e.mu.Unlock()
		if n == 0 {
			return
		}
		// Quiescence windows are microseconds (pointer capture plus a
		// single traversal), never I/O-bound, so a yielding spin is
		// appropriate rather than a sleep-based backoff.
		runtime.Gosched()
	}
}
