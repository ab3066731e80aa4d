package realtime

import (
	"sync"

	"sentinal-realtime/internal/domain"
)

// Conn is one live transport session owned by the transport layer.
type Conn interface {
	ID() string
	Principal() domain.Principal
	// Send queues a frame without blocking. It returns false when the frame
	// was dropped because the connection is closed or saturated.
	Send(frame []byte) bool
}

// Registry is the local arena of connections on this instance:
// principal -> connections, thread -> connections, connection -> threads.
type Registry struct {
	mu sync.RWMutex

	conns       map[string]Conn
	byPrincipal map[string]map[string]struct{}
	byThread    map[string]map[string]struct{}
	connThreads map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[string]Conn),
		byPrincipal: make(map[string]map[string]struct{}),
		byThread:    make(map[string]map[string]struct{}),
		connThreads: make(map[string]map[string]struct{}),
	}
}

// Add registers conn and reports whether it is the principal's first local
// connection. Adding the same connection twice is a no-op.
func (r *Registry) Add(conn Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; ok {
		return false
	}
	r.conns[conn.ID()] = conn

	pid := conn.Principal().ID
	set, ok := r.byPrincipal[pid]
	if !ok {
		set = make(map[string]struct{})
		r.byPrincipal[pid] = set
	}
	set[conn.ID()] = struct{}{}
	return len(set) == 1
}

// Remove unregisters conn and returns the threads it was subscribed to,
// whether it was registered at all, and whether it was the principal's last
// local connection.
func (r *Registry) Remove(conn Conn) (threads []string, removed bool, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.conns[id]; !ok {
		return nil, false, false
	}
	delete(r.conns, id)

	for threadID := range r.connThreads[id] {
		threads = append(threads, threadID)
		r.dropFromThread(threadID, id)
	}
	delete(r.connThreads, id)

	pid := conn.Principal().ID
	if set, ok := r.byPrincipal[pid]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byPrincipal, pid)
			last = true
		}
	}
	return threads, true, last
}

// Subscribe adds conn to the thread room. It returns false when the
// connection was already subscribed or is not registered.
func (r *Registry) Subscribe(conn Conn, threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	if _, ok := r.connThreads[id][threadID]; ok {
		return false
	}

	if r.connThreads[id] == nil {
		r.connThreads[id] = make(map[string]struct{})
	}
	r.connThreads[id][threadID] = struct{}{}

	if r.byThread[threadID] == nil {
		r.byThread[threadID] = make(map[string]struct{})
	}
	r.byThread[threadID][id] = struct{}{}
	return true
}

// Unsubscribe removes conn from the room and reports whether it was there.
func (r *Registry) Unsubscribe(conn Conn, threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.connThreads[id][threadID]; !ok {
		return false
	}
	delete(r.connThreads[id], threadID)
	r.dropFromThread(threadID, id)
	return true
}

func (r *Registry) dropFromThread(threadID, connID string) {
	if set, ok := r.byThread[threadID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byThread, threadID)
		}
	}
}

// IsSubscribed reports whether conn holds the thread room.
func (r *Registry) IsSubscribed(connID, threadID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connThreads[connID][threadID]
	return ok
}

// ThreadsOf returns the rooms held by the connection.
func (r *Registry) ThreadsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.connThreads[connID]))
	for id := range r.connThreads[connID] {
		out = append(out, id)
	}
	return out
}

func (r *Registry) ConnsOfPrincipal(principalID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byPrincipal[principalID]))
	for id := range r.byPrincipal[principalID] {
		out = append(out, r.conns[id])
	}
	return out
}

func (r *Registry) ConnsInThread(threadID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byThread[threadID]))
	for id := range r.byThread[threadID] {
		out = append(out, r.conns[id])
	}
	return out
}

// Principals returns every principal with a local connection.
func (r *Registry) Principals() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byPrincipal))
	for id := range r.byPrincipal {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
