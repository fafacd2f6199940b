package server

import (
	"errors"
	"sync"
)

var ErrAlreadyRegistered = errors.New("connection already registered")

// Binding is what the registry knows about one live connection.
type Binding struct {
	ParticipantId int64
	RoomId        int64
	InRoom        bool
}

// Registry maps each open connection to its participant and, once a join has
// been processed, to its room. It is the ownership authority for connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Client]Binding
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Client]Binding)}
}

func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; ok {
		return ErrAlreadyRegistered
	}
	r.conns[c] = Binding{ParticipantId: c.participantId}
	return nil
}

// BindRoom records the room for c. It reports false when c is not registered.
func (r *Registry) BindRoom(c *Client, roomId int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[c]
	if !ok {
		return false
	}
	b.RoomId = roomId
	b.InRoom = true
	r.conns[c] = b
	return true
}

func (r *Registry) Participant(c *Client) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.conns[c]
	return b.ParticipantId, ok
}

func (r *Registry) Room(c *Client) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.conns[c]
	if !ok || !b.InRoom {
		return 0, false
	}
	return b.RoomId, true
}

// Remove deletes c and returns its last binding. Only the first call for a
// given connection reports true.
func (r *Registry) Remove(c *Client) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[c]
	if ok {
		delete(r.conns, c)
	}
	return b, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.conns))
	for c := range r.conns {
		clients = append(clients, c)
	}
	return clients
}
