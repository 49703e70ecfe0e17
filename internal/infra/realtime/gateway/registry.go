package gateway

import (
	"slices"
	"sync"
)

// Registry maps users and listing rooms to live connections. The gateway
// owns one instance; tests and main construct it explicitly. Membership
// changes happen under one lock so a join can never land after the
// connection was removed.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]*Conn
	rooms map[string]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.retired() {
		return
	}
	set, ok := r.users[c.UserID]
	if !ok {
		set = make(map[string]*Conn)
		r.users[c.UserID] = set
	}
	set[c.ID] = c
}

// Remove retires the connection, drops it from its room and from the user
// index, and returns the room it was in. Later joins of c are refused.
func (r *Registry) Remove(c *Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.retire()
	prev := r.leaveLocked(c)
	if set, ok := r.users[c.UserID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(r.users, c.UserID)
		}
	}
	return prev
}

// Join moves the connection into listingID's room, leaving any previous
// room first. It returns the previous room, and false when c was already
// removed or closed.
func (r *Registry) Join(c *Conn, listingID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.retired() {
		return "", false
	}
	prev := c.Room()
	if prev == listingID {
		return prev, true
	}
	r.leaveLocked(c)
	members, ok := r.rooms[listingID]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[listingID] = members
	}
	members[c.ID] = c
	c.setRoom(listingID)
	return prev, true
}

// Leave removes the connection from its room and returns that room.
func (r *Registry) Leave(c *Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c)
}

func (r *Registry) leaveLocked(c *Conn) string {
	prev := c.setRoom("")
	if prev == "" {
		return ""
	}
	if members, ok := r.rooms[prev]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(r.rooms, prev)
		}
	}
	return prev
}

// Members snapshots the connections in a room.
func (r *Registry) Members(listingID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[listingID]
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// UserConns snapshots every live connection of a user.
func (r *Registry) UserConns(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[userID]
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Online lists the distinct users present in a room, excluding one user.
func (r *Registry) Online(listingID, exclude string) []string {
	seen := make(map[string]struct{})
	for _, c := range r.Members(listingID) {
		if c.UserID != exclude {
			seen[c.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// InRoom reports whether any connection of userID is joined to listingID.
func (r *Registry) InRoom(listingID, userID string) bool {
	for _, c := range r.Members(listingID) {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) Conns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.users {
		n += len(set)
	}
	return n
}
