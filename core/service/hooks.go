package service

import (
	"context"
)

// Hook is a single pipeline step. It receives the call's Context by
// exclusive reference for the duration of its own execution and may mutate
// Data, Params and Result. Returning an error (or setting hc.Err) terminates
// the remaining hooks of the current phase and routes the call through the
// error chain.
type Hook func(ctx context.Context, hc *Context) error

// HookMap holds ordered hooks keyed by verb. All is spliced ahead of the
// per-verb hooks of the same registration, preserving relative registration
// order across successive Hooks calls.
type HookMap struct {
	All    []Hook
	Find   []Hook
	Get    []Hook
	Create []Hook
	Update []Hook
	Patch  []Hook
	Remove []Hook
}

// Hooks groups the three phase chains registered on a service.
type Hooks struct {
	Before  HookMap
	After   HookMap
	OnError HookMap
}

// forMethod returns the hooks of m within a single registration, the All
// hooks first.
func (h HookMap) forMethod(m Method) []Hook {
	var verb []Hook
	switch m {
	case MethodFind:
		verb = h.Find
	case MethodGet:
		verb = h.Get
	case MethodCreate:
		verb = h.Create
	case MethodUpdate:
		verb = h.Update
	case MethodPatch:
		verb = h.Patch
	case MethodRemove:
		verb = h.Remove
	}
	if len(h.All) == 0 {
		return verb
	}
	out := make([]Hook, 0, len(h.All)+len(verb))
	out = append(out, h.All...)
	out = append(out, verb...)
	return out
}

// chains holds the flattened per-verb hook chains of one phase.
type chains map[Method][]Hook

func newChains() chains {
	return make(chains, 6)
}

// splice appends the registration's hooks to every verb chain.
func (c chains) splice(h HookMap) {
	for _, m := range allMethods {
		if add := h.forMethod(m); len(add) > 0 {
			c[m] = append(c[m], add...)
		}
	}
}

var allMethods = []Method{
	MethodFind, MethodGet, MethodCreate, MethodUpdate, MethodPatch, MethodRemove,
}

// run executes the chain for m until exhaustion or the first failure.
// A set hc.Err short-circuits exactly like a returned error.
func (c chains) run(ctx context.Context, m Method, hc *Context) error {
	for _, h := range c[m] {
		if err := h(ctx, hc); err != nil {
			hc.Err = err
			return err
		}
		if hc.Err != nil {
			return hc.Err
		}
	}
	return nil
}
