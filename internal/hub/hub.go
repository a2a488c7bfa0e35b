// Package hub keeps track of which connections subscribe to which
// broadcast channels.
package hub

import "sync"

// ModeratorChannel receives flagged-message notices. Moderators and admins
// join it when their connection is opened.
const ModeratorChannel = "moderators"

// RoomChannel returns the broadcast channel of a peer room.
func RoomChannel(slug string) string {
	return "room:" + slug
}

// Conn is one live client connection. Send must not block; it returns
// false when the payload could not be queued.
type Conn interface {
	ID() string
	Send(payload []byte) bool
}

type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Conn
	joined   map[string]map[string]struct{} // conn id -> channels
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[string]Conn),
		joined:   make(map[string]map[string]struct{}),
	}
}

// Join subscribes c to channel. It returns false if c was already a member.
func (r *Registry) Join(channel string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.channels[channel]
	if members == nil {
		members = make(map[string]Conn)
		r.channels[channel] = members
	}
	if _, ok := members[c.ID()]; ok {
		return false
	}
	members[c.ID()] = c
	set := r.joined[c.ID()]
	if set == nil {
		set = make(map[string]struct{})
		r.joined[c.ID()] = set
	}
	set[channel] = struct{}{}
	return true
}

// Leave unsubscribes c from channel and reports whether it was a member.
func (r *Registry) Leave(channel string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(channel, c.ID())
}

// LeaveAll drops every membership of c and returns the released channels.
func (r *Registry) LeaveAll(c Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.joined[c.ID()]
	released := make([]string, 0, len(set))
	for channel := range set {
		released = append(released, channel)
	}
	for _, channel := range released {
		r.leaveLocked(channel, c.ID())
	}
	return released
}

func (r *Registry) leaveLocked(channel, connID string) bool {
	members := r.channels[channel]
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.channels, channel)
	}
	if set := r.joined[connID]; set != nil {
		delete(set, channel)
		if len(set) == 0 {
			delete(r.joined, connID)
		}
	}
	return true
}

func (r *Registry) IsMember(channel string, c Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channel][c.ID()]
	return ok
}

// Members returns a snapshot of the connections subscribed to channel.
func (r *Registry) Members(channel string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.channels[channel]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Channels lists the channels c is subscribed to.
func (r *Registry) Channels(c Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.joined[c.ID()]
	out := make([]string, 0, len(set))
	for channel := range set {
		out = append(out, channel)
	}
	return out
}

// Broadcast queues payload on every member of channel except the connection
// with id exceptID (pass "" to include everyone). It returns the number of
// connections that accepted the payload.
func (r *Registry) Broadcast(channel string, payload []byte, exceptID string) int {
	delivered := 0
	for _, c := range r.Members(channel) {
		if exceptID != "" && c.ID() == exceptID {
			continue
		}
		if c.Send(payload) {
			delivered++
		}
	}
	return delivered
}
