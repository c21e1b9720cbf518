// Package realtime tracks live transport connections, their channel
// membership and the publish fan-out of service events. The registry is a
// process-wide object created at startup and mutated only through its
// connect/disconnect/join/leave/bind operations; one lock covers
// connections and membership so a disconnecting connection leaves every
// channel before any later publish can consider it.
package realtime

import (
	"sync"

	"github.com/artpar/plume/ports"
	"github.com/rs/zerolog"
)

// Everybody is the well-known channel every connection joins on connect
// under the default policy.
const Everybody = "everybody"

// Emitter pushes a transport-level event to one connection. Implemented by
// the socket transport; a failed or closed emitter is skipped during
// fan-out, never an error.
type Emitter interface {
	Emit(event string, payload any) error
}

// Connection is one long-lived transport session.
type Connection struct {
	id      string
	emitter Emitter

	mu       sync.RWMutex
	identity ports.Record
}

// ID returns the opaque session token.
func (c *Connection) ID() string {
	return c.id
}

// Emit pushes an event down the session.
func (c *Connection) Emit(event string, payload any) error {
	return c.emitter.Emit(event, payload)
}

// Identity returns the authenticated identity bound to the session, nil
// when anonymous.
func (c *Connection) Identity() ports.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Connection) setIdentity(identity ports.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// ConnectHandler runs when a connection registers (join channels here).
type ConnectHandler func(c *Connection)

// Registry tracks live connections and named channels.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	channels map[string]map[string]*Connection

	onConnect []ConnectHandler

	ids    ports.IDGenerator
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(ids ports.IDGenerator, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		channels: make(map[string]map[string]*Connection),
		ids:      ids,
		logger:   logger,
	}
}

// OnConnect registers a handler invoked for every new connection.
// Registered at startup, before traffic.
func (r *Registry) OnConnect(fn ConnectHandler) {
	r.mu.Lock()
	r.onConnect = append(r.onConnect, fn)
	r.mu.Unlock()
}

// Connect registers a new live connection and runs the connect handlers.
func (r *Registry) Connect(e Emitter) *Connection {
	c := &Connection{id: r.ids.New(), emitter: e}

	r.mu.Lock()
	r.conns[c.id] = c
	handlers := r.onConnect
	r.mu.Unlock()

	r.logger.Debug().Str("connection", c.id).Msg("connection registered")

	for _, fn := range handlers {
		fn(c)
	}
	return c
}

// Disconnect removes a connection. It synchronously removes the connection
// from every channel before returning, so no later publish can target it.
func (r *Registry) Disconnect(c *Connection) {
	if c == nil {
		return
	}

	r.mu.Lock()
	for name, members := range r.channels {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.channels, name)
		}
	}
	delete(r.conns, c.id)
	r.mu.Unlock()

	r.logger.Debug().Str("connection", c.id).Msg("connection removed")
}

// Bind attaches an authenticated identity to a connection. Binding twice
// overwrites; re-authentication on an existing socket is expected.
func (r *Registry) Bind(c *Connection, identity ports.Record) {
	if c == nil {
		return
	}
	c.setIdentity(identity)
}

// Join adds a connection to a named channel, creating the channel on first
// use. Joining a channel twice is a no-op.
func (r *Registry) Join(channel string, c *Connection) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Ignore connections that already disconnected.
	if _, live := r.conns[c.id]; !live {
		return
	}

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]*Connection)
		r.channels[channel] = members
	}
	members[c.id] = c
}

// Leave removes a connection from a channel. Leaving a channel the
// connection never joined is a no-op.
func (r *Registry) Leave(channel string, c *Connection) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(r.channels, channel)
	}
}

// Members returns a snapshot of a channel's live connections. Publish
// iterates the snapshot, so a concurrent disconnect at worst skips or
// no-ops a member, which delivery tolerates.
func (r *Registry) Members(channel string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Live reports whether a connection is still registered.
func (r *Registry) Live(c *Connection) bool {
	if c == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c.id]
	return ok
}
