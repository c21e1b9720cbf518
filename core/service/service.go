// Package service implements the uniform CRUD service abstraction and the
// ordered, short-circuiting hook pipeline wrapped around every call.
// Services are registered once at startup and live for the process
// lifetime; each inbound call runs as one logical sequential unit of work
// regardless of which transport delivered it.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
	"github.com/rs/zerolog"
)

// Page is the descriptor find returns when paging is requested.
type Page struct {
	Data  []ports.Record `json:"data"`
	Total int64          `json:"total"`
	Limit int            `json:"limit"`
	Skip  int            `json:"skip"`
}

// Publisher receives the context of every fully successful mutating call
// so the channel layer can fan the event out.
type Publisher interface {
	Publish(hc *Context)
}

// Observer is notified about every completed call (metrics).
type Observer interface {
	ObserveCall(service string, method Method, err error, d time.Duration)
}

// App is the process-wide service registry. Services and hooks are
// registered during startup; once traffic flows the registry is read-only.
type App struct {
	mu       sync.RWMutex
	services map[string]*Service

	publisher Publisher
	observer  Observer
	ids       ports.IDGenerator
	logger    zerolog.Logger
}

// Config configures an App.
type Config struct {
	// IDs assigns identifiers to created records when the backing store
	// does not. Required.
	IDs ports.IDGenerator

	// Logger for pipeline diagnostics.
	Logger zerolog.Logger
}

// NewApp creates an empty service registry.
func NewApp(cfg Config) *App {
	return &App{
		services: make(map[string]*Service),
		ids:      cfg.IDs,
		logger:   cfg.Logger,
	}
}

// SetPublisher wires the channel layer. Called once during startup.
func (a *App) SetPublisher(p Publisher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publisher = p
}

// SetObserver wires the metrics collector. Called once during startup.
func (a *App) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = o
}

// Use registers a service under a resource path. Registering the same path
// twice replaces the storage but keeps registered hooks.
func (a *App) Use(path string, store ports.Storage) *Service {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.services[path]; ok {
		s.store = store
		return s
	}

	s := &Service{
		app:     a,
		path:    path,
		store:   store,
		before:  newChains(),
		after:   newChains(),
		onError: newChains(),
	}
	a.services[path] = s

	a.logger.Debug().Str("service", path).Msg("service registered")
	return s
}

// Service looks up a registered service.
func (a *App) Service(path string) (*Service, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.services[path]
	if !ok {
		return nil, apperr.NotFoundf("service %q not registered", path)
	}
	return s, nil
}

// Paths returns the registered resource paths in no particular order.
func (a *App) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	paths := make([]string, 0, len(a.services))
	for p := range a.services {
		paths = append(paths, p)
	}
	return paths
}

// Call executes a verb on a service through the full hook pipeline.
// This is the single entry point every transport funnels into.
func (a *App) Call(ctx context.Context, path string, method Method, id string, params Params, data ports.Record) (any, error) {
	start := time.Now()

	result, err := a.call(ctx, path, method, id, params, data)

	a.mu.RLock()
	obs := a.observer
	a.mu.RUnlock()
	if obs != nil {
		obs.ObserveCall(path, method, err, time.Since(start))
	}

	return result, err
}

func (a *App) call(ctx context.Context, path string, method Method, id string, params Params, data ports.Record) (any, error) {
	if !method.Valid() {
		return nil, apperr.Newf(apperr.KindBadRequest, "unknown method %q", method)
	}

	s, err := a.Service(path)
	if err != nil {
		return nil, err
	}

	hc := &Context{
		Service: path,
		Method:  method,
		ID:      id,
		Params:  params,
		Data:    data,
		app:     a,
	}

	if err := s.execute(ctx, hc); err != nil {
		a.logger.Debug().
			Str("service", path).
			Str("method", string(method)).
			Err(err).
			Msg("call failed")
		return nil, err
	}

	if method.Mutates() && !hc.recovered {
		a.mu.RLock()
		pub := a.publisher
		a.mu.RUnlock()
		if pub != nil {
			pub.Publish(hc)
		}
	}

	return hc.Result, nil
}

// Service is one registered resource: a backing store plus the hook chains
// wrapped around its verbs.
type Service struct {
	app  *App
	path string

	store ports.Storage

	before  chains
	after   chains
	onError chains
}

// Path returns the resource path the service is registered under.
func (s *Service) Path() string {
	return s.path
}

// Hooks splices a registration into the per-verb chains. Later
// registrations run after earlier ones within each phase.
func (s *Service) Hooks(h Hooks) *Service {
	s.app.mu.Lock()
	defer s.app.mu.Unlock()

	s.before.splice(h.Before)
	s.after.splice(h.After)
	s.onError.splice(h.OnError)
	return s
}

// execute drives one call through before hooks, the inner operation, after
// hooks, and on failure the error chain. The phases of a single Context
// never run concurrently.
func (s *Service) execute(ctx context.Context, hc *Context) error {
	if err := s.before.run(ctx, hc.Method, hc); err != nil {
		return s.fail(ctx, hc)
	}

	// A before hook that assigned a result suppresses the inner operation
	// entirely (cache hit, permission-denial fast path).
	if hc.Result == nil {
		if err := s.operate(ctx, hc); err != nil {
			hc.Err = err
			return s.fail(ctx, hc)
		}
	}

	if err := s.after.run(ctx, hc.Method, hc); err != nil {
		return s.fail(ctx, hc)
	}

	return nil
}

// fail runs the error chain. An error hook may substitute a recovered
// result by clearing hc.Err; a recovered call returns success to the
// caller but never publishes an event.
func (s *Service) fail(ctx context.Context, hc *Context) error {
	for _, h := range s.onError[hc.Method] {
		if err := h(ctx, hc); err != nil {
			hc.Err = err
			break
		}
		if hc.Err == nil {
			// Recovered: a result was substituted for the failure.
			if hc.Result == nil {
				hc.Err = apperr.New(apperr.KindUnavailable, "error hook cleared failure without a result")
				break
			}
			hc.recovered = true
			return nil
		}
	}
	return hc.Err
}

// operate runs the inner storage operation for the verb.
func (s *Service) operate(ctx context.Context, hc *Context) error {
	switch hc.Method {
	case MethodFind:
		return s.opFind(ctx, hc)
	case MethodGet:
		return s.opGet(ctx, hc)
	case MethodCreate:
		return s.opCreate(ctx, hc)
	case MethodUpdate:
		return s.opUpdate(ctx, hc)
	case MethodPatch:
		return s.opPatch(ctx, hc)
	case MethodRemove:
		return s.opRemove(ctx, hc)
	}
	return apperr.Newf(apperr.KindBadRequest, "unknown method %q", hc.Method)
}

func (s *Service) opFind(ctx context.Context, hc *Context) error {
	items, total, err := s.store.Find(ctx, hc.Params.Query)
	if err != nil {
		return err
	}

	if hc.Params.Query.Paged() {
		hc.Result = Page{
			Data:  items,
			Total: total,
			Limit: hc.Params.Query.Limit,
			Skip:  hc.Params.Query.Skip,
		}
		return nil
	}

	hc.Result = items
	return nil
}

func (s *Service) opGet(ctx context.Context, hc *Context) error {
	if hc.ID == "" {
		return apperr.BadRequest("get requires an id")
	}

	rec, err := s.store.Get(ctx, hc.ID)
	if err != nil {
		return err
	}
	if !matches(rec, hc.Params.Query.Filters) {
		return apperr.NotFoundf("no record found for id %q", hc.ID)
	}

	hc.Result = rec
	return nil
}

func (s *Service) opCreate(ctx context.Context, hc *Context) error {
	if hc.Data == nil {
		return apperr.BadRequest("create requires data")
	}

	data := cloneRecord(hc.Data)
	if id, _ := data["id"].(string); id == "" {
		data["id"] = s.app.ids.New()
	}

	rec, err := s.store.Insert(ctx, data)
	if err != nil {
		return err
	}

	hc.Result = rec
	return nil
}

func (s *Service) opUpdate(ctx context.Context, hc *Context) error {
	if hc.ID == "" {
		return apperr.BadRequest("update requires an id")
	}
	if hc.Data == nil {
		return apperr.BadRequest("update requires data")
	}

	rec, err := s.store.Replace(ctx, hc.ID, cloneRecord(hc.Data))
	if err != nil {
		return err
	}

	hc.Result = rec
	return nil
}

func (s *Service) opPatch(ctx context.Context, hc *Context) error {
	if hc.ID == "" {
		return apperr.BadRequest("patch requires an id")
	}
	if hc.Data == nil {
		return apperr.BadRequest("patch requires data")
	}

	rec, err := s.store.Patch(ctx, hc.ID, cloneRecord(hc.Data))
	if err != nil {
		return err
	}

	hc.Result = rec
	return nil
}

func (s *Service) opRemove(ctx context.Context, hc *Context) error {
	if hc.ID == "" {
		return apperr.BadRequest("remove requires an id")
	}

	// A query-restricted remove must not delete a record the filters
	// exclude, so check before deleting.
	if len(hc.Params.Query.Filters) > 0 {
		rec, err := s.store.Get(ctx, hc.ID)
		if err != nil {
			return err
		}
		if !matches(rec, hc.Params.Query.Filters) {
			return apperr.NotFoundf("no record found for id %q", hc.ID)
		}
	}

	rec, err := s.store.Delete(ctx, hc.ID)
	if err != nil {
		return err
	}

	hc.Result = rec
	return nil
}

// Convenience wrappers used by internal callers and tests.

// Find runs the find verb.
func (s *Service) Find(ctx context.Context, params Params) (any, error) {
	return s.app.Call(ctx, s.path, MethodFind, "", params, nil)
}

// Get runs the get verb.
func (s *Service) Get(ctx context.Context, id string, params Params) (ports.Record, error) {
	return s.record(s.app.Call(ctx, s.path, MethodGet, id, params, nil))
}

// Create runs the create verb.
func (s *Service) Create(ctx context.Context, data ports.Record, params Params) (ports.Record, error) {
	return s.record(s.app.Call(ctx, s.path, MethodCreate, "", params, data))
}

// Update runs the update verb.
func (s *Service) Update(ctx context.Context, id string, data ports.Record, params Params) (ports.Record, error) {
	return s.record(s.app.Call(ctx, s.path, MethodUpdate, id, params, data))
}

// Patch runs the patch verb.
func (s *Service) Patch(ctx context.Context, id string, data ports.Record, params Params) (ports.Record, error) {
	return s.record(s.app.Call(ctx, s.path, MethodPatch, id, params, data))
}

// Remove runs the remove verb.
func (s *Service) Remove(ctx context.Context, id string, params Params) (ports.Record, error) {
	return s.record(s.app.Call(ctx, s.path, MethodRemove, id, params, nil))
}

func (s *Service) record(result any, err error) (ports.Record, error) {
	if err != nil {
		return nil, err
	}
	rec, ok := result.(ports.Record)
	if !ok {
		return nil, fmt.Errorf("service %s returned %T, want record", s.path, result)
	}
	return rec, nil
}

// matches reports whether every filter field equals the record's value.
func matches(rec ports.Record, filters map[string]any) bool {
	for k, want := range filters {
		if fmt.Sprintf("%v", rec[k]) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func cloneRecord(rec ports.Record) ports.Record {
	out := make(ports.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
