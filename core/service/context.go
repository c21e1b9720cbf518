package service

import (
	"github.com/artpar/plume/ports"
)

// Method is a service verb.
type Method string

// The fixed verb set every service exposes.
const (
	MethodFind   Method = "find"
	MethodGet    Method = "get"
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
	MethodPatch  Method = "patch"
	MethodRemove Method = "remove"
)

// Mutates reports whether the verb changes state and therefore emits an
// event on success.
func (m Method) Mutates() bool {
	switch m {
	case MethodCreate, MethodUpdate, MethodPatch, MethodRemove:
		return true
	}
	return false
}

// EventName returns the past-tense event suffix for a mutating verb,
// or the empty string for read verbs.
func (m Method) EventName() string {
	switch m {
	case MethodCreate:
		return "created"
	case MethodUpdate:
		return "updated"
	case MethodPatch:
		return "patched"
	case MethodRemove:
		return "removed"
	}
	return ""
}

// Valid reports whether m is one of the fixed verbs.
func (m Method) Valid() bool {
	switch m {
	case MethodFind, MethodGet, MethodCreate, MethodUpdate, MethodPatch, MethodRemove:
		return true
	}
	return false
}

// Connection is the transport session a call arrived on, when the transport
// keeps one. Stateless transports leave Params.Connection nil.
type Connection interface {
	// ID is the opaque identity token of the session.
	ID() string

	// Emit pushes a server-originated event down the session.
	Emit(event string, payload any) error
}

// Params carries the call environment through the hook pipeline.
type Params struct {
	// Provider tags which external transport the call arrived over
	// ("rest", "socket"). Empty means an internal server-side call.
	Provider string

	// Query restricts find/get/remove beyond identifier lookup.
	Query ports.Query

	// Identity is the authenticated caller, nil when anonymous.
	Identity ports.Record

	// Connection is the live transport session, nil for stateless calls.
	Connection Connection
}

// External reports whether the call arrived over a transport rather than
// from internal server code.
func (p Params) External() bool {
	return p.Provider != ""
}

// Context is the mutable envelope threaded through a single call's hooks.
// It is owned exclusively by that call and is never shared across
// concurrent calls.
type Context struct {
	// Service is the resource path the call targets.
	Service string

	// Method is the verb being executed.
	Method Method

	// ID is the target identifier for get/update/patch/remove.
	ID string

	// Params is the call environment.
	Params Params

	// Data is the request payload for mutating verbs.
	Data ports.Record

	// Result is the response payload. A before hook that sets Result
	// suppresses the inner operation; after the inner operation it holds
	// whatever will be returned to the caller and published to channels.
	Result any

	// Err, once set, terminates the remaining hooks of the current phase
	// and routes the call through the error chain.
	Err error

	app *App

	// recovered marks a call whose failure was substituted by an error
	// hook. Recovered calls return success but never publish events.
	recovered bool
}

// App returns the owning application so hooks can call sibling services.
func (c *Context) App() *App {
	return c.app
}

// ResultRecord returns Result as a record, or nil if it is absent or has
// another shape.
func (c *Context) ResultRecord() ports.Record {
	rec, _ := c.Result.(ports.Record)
	return rec
}
