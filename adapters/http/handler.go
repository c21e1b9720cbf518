// Package http provides the stateless request/response transport: REST
// endpoints generated from service registration. No connection identity
// persists across calls; authentication travels as a bearer token on each
// request.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/plume/adapters/auth"
	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Provider is the tag REST calls carry in their params.
const Provider = "rest"

type contextKey string

const identityKey contextKey = "identity"

// Handler serves every registered service over REST.
type Handler struct {
	app    *service.App
	tokens *auth.TokenService
	logger zerolog.Logger
}

// NewHandler creates the REST transport over the service registry.
func NewHandler(app *service.App, tokens *auth.TokenService, logger zerolog.Logger) *Handler {
	return &Handler{app: app, tokens: tokens, logger: logger}
}

// Router builds the chi router with one route set per registered service.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(h.withIdentity)

	for _, path := range h.app.Paths() {
		h.mount(r, path)
	}

	return r
}

func (h *Handler) mount(r chi.Router, path string) {
	r.Route("/"+path, func(r chi.Router) {
		r.Get("/", h.handle(path, service.MethodFind))
		r.Post("/", h.handle(path, service.MethodCreate))
		r.Get("/{id}", h.handle(path, service.MethodGet))
		r.Put("/{id}", h.handle(path, service.MethodUpdate))
		r.Patch("/{id}", h.handle(path, service.MethodPatch))
		r.Delete("/{id}", h.handle(path, service.MethodRemove))
	})
}

func (h *Handler) handle(path string, method service.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := service.Params{
			Provider: Provider,
			Query:    parseQuery(r),
		}
		if identity, ok := r.Context().Value(identityKey).(ports.Record); ok {
			params.Identity = identity
		}

		var data ports.Record
		if method.Mutates() && method != service.MethodRemove {
			if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
				h.writeError(w, apperr.Wrap(apperr.KindBadRequest, "malformed JSON body", err))
				return
			}
		}

		id := chi.URLParam(r, "id")

		result, err := h.app.Call(r.Context(), path, method, id, params, data)
		if err != nil {
			h.writeError(w, err)
			return
		}

		status := http.StatusOK
		if method == service.MethodCreate {
			status = http.StatusCreated
		}
		h.writeJSON(w, status, result)
	}
}

// withIdentity resolves a bearer token to the caller's user record. An
// absent or invalid token leaves the call anonymous; hooks decide whether
// that is acceptable per verb.
func (h *Handler) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := h.tokens.Validate(token)
		if err != nil {
			h.logger.Debug().Err(err).Msg("bearer token rejected")
			next.ServeHTTP(w, r)
			return
		}

		userSvc, err := h.app.Service("users")
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		// Internal lookup; the raw record stays server-side and only
		// feeds params.Identity.
		identity, err := userSvc.Get(r.Context(), claims.UserID, service.Params{})
		if err != nil {
			h.logger.Debug().Err(err).Str("user", claims.UserID).Msg("token user not found")
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseQuery(r *http.Request) ports.Query {
	q := ports.Query{Filters: map[string]any{}}

	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0]

		switch key {
		case "$limit":
			q.Limit = atoi(value)
		case "$skip":
			q.Skip = atoi(value)
		case "$sort":
			if strings.HasPrefix(value, "-") {
				q.Sort = value[1:]
				q.Desc = true
			} else {
				q.Sort = value
			}
		default:
			q.Filters[key] = value
		}
	}

	if len(q.Filters) == 0 {
		q.Filters = nil
	}
	return q
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug().Err(err).Msg("response encode failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	h.writeJSON(w, kind.HTTPStatus(), map[string]any{
		"error": map[string]any{
			"kind":    kind.String(),
			"message": err.Error(),
		},
	})
}
